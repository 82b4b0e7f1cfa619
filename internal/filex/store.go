// Package filex is the node's local directory store: a narrow, blocking file
// API rooted at the node data directory. Paths are slash separated and
// relative to the root; every call honours its context.
package filex

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrOutsideRoot is returned for paths that would resolve outside the store root.
var ErrOutsideRoot = errors.New("path escapes store root")

// Entry describes one directory entry.
// Regular is false for symlinks, sockets, devices and pipes: ReadDir does
// not follow links.
type Entry struct {
	Name    string
	IsDir   bool
	Regular bool
	Size    int64
	ModTime time.Time
}

// Reader is an open file that can be read at arbitrary offsets.
type Reader interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Store is the directory store used by snapshots, agents and the orchestrator.
type Store interface {
	// MkdirAll creates path and any missing parents. Existing directories are fine.
	MkdirAll(ctx context.Context, path string) error
	// RemoveAll deletes path recursively. A missing path is not an error.
	RemoveAll(ctx context.Context, path string) error
	// Rename moves from to to.
	Rename(ctx context.Context, from, to string) error
	// Open opens an existing file for reading.
	Open(ctx context.Context, path string) (Reader, error)
	// OpenAppend opens path for appending, creating it if missing. The create
	// is atomic and idempotent.
	OpenAppend(ctx context.Context, path string) (io.WriteCloser, error)
	// WriteFile atomically replaces path with data.
	WriteFile(ctx context.Context, path string, data []byte) error
	// ReadFile returns the whole content of path.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// ReadDir lists path sorted by name.
	ReadDir(ctx context.Context, path string) ([]Entry, error)
	// Stat describes path.
	Stat(ctx context.Context, path string) (Entry, error)
}
