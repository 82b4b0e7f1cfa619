package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/dmitrijs2005/peervault/internal/cryptox"
	"github.com/dmitrijs2005/peervault/internal/protocol"
	"github.com/dmitrijs2005/peervault/internal/snapshot"
)

func (a *Agent) send(ctx context.Context) error {
	files, err := snapshot.FlattenLight(ctx, a.store, a.job.Root)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", a.job.Root, err)
	}

	for _, rel := range files {
		tag, err := a.tagFor(rel)
		if err != nil {
			return fmt.Errorf("name %s: %w", rel, err)
		}
		if err := a.sendFile(ctx, path.Join(a.job.Root, rel), tag); err != nil {
			return err
		}
		a.files++
	}

	if err := a.sendTo(ctx, a.job.Target, protocol.Chunk{Done: true}, nil); err != nil {
		return fmt.Errorf("send terminal chunk: %w", err)
	}
	return nil
}

func (a *Agent) tagFor(rel string) (string, error) {
	if a.job.Secret == "" {
		return path.Base(rel), nil
	}
	return cryptox.EncryptName(rel, a.job.Secret)
}

func (a *Agent) sendFile(ctx context.Context, p, tag string) error {
	r, err := a.store.Open(ctx, p)
	if err != nil {
		return err
	}
	defer r.Close()

	size := r.Size()
	chunks := cryptox.ChunkCount(size, cryptox.ChunkSize)

	for i := int64(0); i < chunks; i++ {
		off := i * cryptox.ChunkSize
		buf := make([]byte, min(int64(cryptox.ChunkSize), max(size-off, 0)))

		n, err := r.ReadAt(buf, off)
		if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
			return fmt.Errorf("read %s at %d: %w", p, off, err)
		}

		payload := buf
		if a.job.Secret != "" {
			if payload, err = cryptox.Encrypt(buf, a.job.Secret); err != nil {
				return fmt.Errorf("encrypt %s: %w", p, err)
			}
		}

		if err := a.sendTo(ctx, a.job.Target, protocol.Chunk{Tag: tag}, payload); err != nil {
			return fmt.Errorf("send chunk %d of %s: %w", i, p, err)
		}
		a.bytes += int64(len(buf))
	}
	return nil
}
