// Package repomanager opens the bookkeeping database named by a DSN, runs
// its migrations and vends repositories for the matching SQL dialect.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/peervault/internal/dbx"
	"github.com/dmitrijs2005/peervault/internal/repositories/metadata"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Metadata(db dbx.DBTX) metadata.Repository
}

// IsPostgresDSN reports whether dsn names a PostgreSQL database rather than
// a SQLite file.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open connects to dsn, migrates the schema and returns the handle with
// its manager. The caller closes the handle.
func Open(ctx context.Context, dsn string) (*sql.DB, RepositoryManager, error) {
	driver := "sqlite"
	var m RepositoryManager = &SQLiteRepositoryManager{}
	if IsPostgresDSN(dsn) {
		driver = "pgx"
		m = &PostgresRepositoryManager{}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping %s database: %w", driver, err)
	}

	if err := m.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate %s database: %w", driver, err)
	}

	return db, m, nil
}
