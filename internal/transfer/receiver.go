package transfer

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/peervault/internal/snapshot"
)

// prepare wipes the destination: every transfer is a full overwrite.
func (a *Agent) prepare(ctx context.Context) error {
	if err := a.store.RemoveAll(ctx, a.job.Root); err != nil {
		return err
	}
	return a.store.MkdirAll(ctx, a.job.Root)
}

// write appends payload to the file named by tag. The file handle stays
// open while consecutive chunks name the same file.
func (a *Agent) write(ctx context.Context, tag string, payload []byte) error {
	if a.cur == nil || tag != a.curTag {
		if a.cur != nil {
			if err := a.cur.Close(); err != nil {
				return err
			}
			a.cur = nil
		}

		full, err := snapshot.Join(a.job.Root, tag)
		if err != nil {
			return err
		}
		if err := snapshot.EnsureParents(ctx, a.store, full); err != nil {
			return err
		}
		w, err := a.store.OpenAppend(ctx, full)
		if err != nil {
			return err
		}
		a.cur, a.curTag = w, tag
		a.files++
	}

	if _, err := a.cur.Write(payload); err != nil {
		return fmt.Errorf("append %s: %w", tag, err)
	}
	a.bytes += int64(len(payload))
	return nil
}
