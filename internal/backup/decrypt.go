package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/dmitrijs2005/peervault/internal/common"
	"github.com/dmitrijs2005/peervault/internal/cryptox"
	"github.com/dmitrijs2005/peervault/internal/snapshot"
)

// decrypt restores the quarantined backup into the document root. Files are
// decrypted into the staging directory first; the document root is only
// replaced when every file decrypted.
func (o *Orchestrator) decrypt(ctx context.Context, secret string) error {
	if o.active != nil {
		return common.ErrBusy
	}

	files, err := snapshot.FlattenLight(ctx, o.store, common.QuarantineDir)
	if err != nil {
		return fmt.Errorf("list quarantine: %w", err)
	}
	if len(files) == 0 {
		return common.ErrNoBackup
	}

	if err := o.store.RemoveAll(ctx, common.StagingDir); err != nil {
		return err
	}
	if err := o.store.MkdirAll(ctx, common.StagingDir); err != nil {
		return err
	}

	seen := make(map[string]string, len(files))
	for _, name := range files {
		if err := o.decryptFile(ctx, name, secret, seen); err != nil {
			if rerr := o.store.RemoveAll(ctx, common.StagingDir); rerr != nil {
				o.logger.Error(ctx, "cleaning staging failed", "error", rerr)
			}
			return err
		}
	}

	if err := o.store.RemoveAll(ctx, common.DocumentsDir); err != nil {
		return err
	}
	if err := o.store.Rename(ctx, common.StagingDir, common.DocumentsDir); err != nil {
		return err
	}
	o.logger.Info(ctx, "backup restored", "files", len(files))
	return nil
}

func (o *Orchestrator) decryptFile(ctx context.Context, name, secret string, seen map[string]string) error {
	rel, err := cryptox.DecryptName(path.Base(name), secret)
	if err != nil {
		return fmt.Errorf("decrypt name %s: %w", name, err)
	}
	if other, ok := seen[rel]; ok {
		return fmt.Errorf("%s and %s both decrypt to %s", other, name, rel)
	}
	seen[rel] = name

	dst, err := snapshot.Join(common.StagingDir, rel)
	if err != nil {
		return err
	}
	if err := snapshot.EnsureParents(ctx, o.store, dst); err != nil {
		return err
	}

	r, err := o.store.Open(ctx, path.Join(common.QuarantineDir, name))
	if err != nil {
		return err
	}
	defer r.Close()

	// Every encrypted file, even an empty one, carries at least one sealed chunk.
	if r.Size() < cryptox.Overhead {
		return fmt.Errorf("decrypt %s: %d bytes: %w", rel, r.Size(), cryptox.ErrDecryptionFailed)
	}

	w, err := o.store.OpenAppend(ctx, dst)
	if err != nil {
		return err
	}

	var off int64
	for _, n := range cryptox.ChunkLengths(r.Size(), cryptox.EncryptedChunkSize) {
		buf := make([]byte, n)
		if k, err := r.ReadAt(buf, off); err != nil && !(errors.Is(err, io.EOF) && k == n) {
			_ = w.Close()
			return fmt.Errorf("read %s at %d: %w", name, off, err)
		}
		off += int64(n)

		plain, err := cryptox.Decrypt(buf, secret)
		if err != nil {
			_ = w.Close()
			return fmt.Errorf("decrypt %s: %w", rel, err)
		}
		if _, err := w.Write(plain); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}
