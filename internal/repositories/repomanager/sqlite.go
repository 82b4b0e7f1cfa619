package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/peervault/internal/dbx"
	"github.com/dmitrijs2005/peervault/internal/migrations"
	"github.com/dmitrijs2005/peervault/internal/repositories/metadata"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteRepositoryManager is the default, file-backed manager.
type SQLiteRepositoryManager struct{}

func (m *SQLiteRepositoryManager) Metadata(db dbx.DBTX) metadata.Repository {
	return metadata.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, migrations.SQLiteDir)
}
