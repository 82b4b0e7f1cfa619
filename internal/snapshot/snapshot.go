// Package snapshot flattens directory trees of a filex.Store into relative
// path listings and rebuilds nested directories from flat paths.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"

	"github.com/dmitrijs2005/peervault/internal/filex"
)

// ErrInvalidPath is returned for relative paths that are empty, absolute or
// climb out of their root.
var ErrInvalidPath = errors.New("invalid relative path")

// FlattenLight lists every regular file under root, depth first in name
// order, as forward-slash paths relative to root. A missing root is an
// empty tree.
func FlattenLight(ctx context.Context, store filex.Store, root string) ([]string, error) {
	var out []string
	err := walk(ctx, store, root, "", func(rel string, _ filex.Entry) error {
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FlattenFull is FlattenLight with file contents loaded. Only meant for
// document import/export of modest trees.
func FlattenFull(ctx context.Context, store filex.Store, root string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := walk(ctx, store, root, "", func(rel string, _ filex.Entry) error {
		data, err := store.ReadFile(ctx, path.Join(root, rel))
		if err != nil {
			return err
		}
		out[rel] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Size sums the sizes of every regular file under root.
func Size(ctx context.Context, store filex.Store, root string) (int64, error) {
	var total int64
	err := walk(ctx, store, root, "", func(_ string, e filex.Entry) error {
		total += e.Size
		return nil
	})
	return total, err
}

func walk(ctx context.Context, store filex.Store, root, rel string, fn func(string, filex.Entry) error) error {
	entries, err := store.ReadDir(ctx, path.Join(root, rel))
	if err != nil {
		if rel == "" && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		child := path.Join(rel, e.Name)
		if e.IsDir {
			if err := walk(ctx, store, root, child, fn); err != nil {
				return err
			}
			continue
		}
		if !e.Regular {
			continue
		}
		if err := fn(child, e); err != nil {
			return err
		}
	}
	return nil
}

// EnsureParents creates every missing ancestor directory of p. Calling it
// again for the same path does nothing.
func EnsureParents(ctx context.Context, store filex.Store, p string) error {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return nil
	}
	return store.MkdirAll(ctx, dir)
}

// Join resolves rel below root, refusing paths that would leave root.
func Join(root, rel string) (string, error) {
	if rel == "" || !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("%q: %w", rel, ErrInvalidPath)
	}
	return path.Join(root, rel), nil
}

// Import writes docs below root, replacing files that already exist. Each
// file is written atomically; files not named in docs are left alone.
func Import(ctx context.Context, store filex.Store, root string, docs map[string][]byte) error {
	names := make([]string, 0, len(docs))
	for rel := range docs {
		names = append(names, rel)
	}
	sort.Strings(names)

	for _, rel := range names {
		full, err := Join(root, rel)
		if err != nil {
			return err
		}
		if err := EnsureParents(ctx, store, full); err != nil {
			return err
		}
		if err := store.WriteFile(ctx, full, docs[rel]); err != nil {
			return err
		}
	}
	return nil
}
