// Package metadata stores small named blobs, such as the orchestrator's
// bookkeeping, in the metadata table. The SQLite and PostgreSQL variants
// differ only in their placeholder syntax.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/peervault/internal/dbx"
)

// Repository reads and writes one blob per key. Get returns (nil, nil) for a
// missing key; Set replaces any previous value.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

type queries struct {
	get string
	set string
}

var (
	sqliteQueries = queries{
		get: `SELECT value FROM metadata WHERE key = ?`,
		set: `INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
	}
	postgresQueries = queries{
		get: `SELECT value FROM metadata WHERE key = $1`,
		set: `INSERT INTO metadata (key, value, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
	}
)

// SQLRepository implements Repository over any dbx.DBTX, so it works both on
// the pool and inside dbx.WithTx.
type SQLRepository struct {
	db dbx.DBTX
	q  queries
}

var _ Repository = (*SQLRepository)(nil)

func NewSQLiteRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db, q: sqliteQueries}
}

func NewPostgresRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db, q: postgresQueries}
}

func (r *SQLRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	switch err := r.db.QueryRowContext(ctx, r.q.get, key).Scan(&value); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read metadata %q: %w", key, err)
	}
	return value, nil
}

func (r *SQLRepository) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := r.db.ExecContext(ctx, r.q.set, key, value); err != nil {
		return fmt.Errorf("write metadata %q: %w", key, err)
	}
	return nil
}
