package backup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/peervault/internal/dbx"
	"github.com/dmitrijs2005/peervault/internal/repositories/repomanager"
	"github.com/vmihailenco/msgpack"
)

const bookkeepingKey = "bookkeeping"

// Bookkeeping is the orchestrator state that survives restarts.
type Bookkeeping struct {
	// Served maps a client node to when we last accepted its backup.
	Served map[string]time.Time `msgpack:"served"`
	// Provider is the node that holds our most recent backup.
	Provider     string     `msgpack:"provider"`
	LastBackupAt *time.Time `msgpack:"last_backup_at"`
	// LastRetrieveAt is set when a retrieved backup finished landing in quarantine.
	LastRetrieveAt *time.Time `msgpack:"last_retrieve_at"`
	// RetrievedBackupAt is the provider's acceptance time of the backup we retrieved.
	RetrievedBackupAt *time.Time `msgpack:"retrieved_backup_at"`
	// PendingSecret is only set between a backup request and its confirmation.
	PendingSecret string `msgpack:"pending_secret,omitempty"`
}

func newBookkeeping() *Bookkeeping {
	return &Bookkeeping{Served: make(map[string]time.Time)}
}

// StateStore loads and saves the bookkeeping blob.
type StateStore interface {
	Load(ctx context.Context) (*Bookkeeping, error)
	Save(ctx context.Context, b *Bookkeeping) error
}

// RepositoryStore keeps the bookkeeping as one msgpack blob in the metadata table.
type RepositoryStore struct {
	db      *sql.DB
	manager repomanager.RepositoryManager
}

func NewRepositoryStore(db *sql.DB, m repomanager.RepositoryManager) *RepositoryStore {
	return &RepositoryStore{db: db, manager: m}
}

// Load returns empty bookkeeping when nothing was saved yet.
func (s *RepositoryStore) Load(ctx context.Context) (*Bookkeeping, error) {
	raw, err := s.manager.Metadata(s.db).Get(ctx, bookkeepingKey)
	if err != nil {
		return nil, fmt.Errorf("load bookkeeping: %w", err)
	}
	b := newBookkeeping()
	if raw == nil {
		return b, nil
	}
	if err := msgpack.Unmarshal(raw, b); err != nil {
		return nil, fmt.Errorf("decode bookkeeping: %w", err)
	}
	if b.Served == nil {
		b.Served = make(map[string]time.Time)
	}
	return b, nil
}

func (s *RepositoryStore) Save(ctx context.Context, b *Bookkeeping) error {
	raw, err := msgpack.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode bookkeeping: %w", err)
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.manager.Metadata(tx).Set(ctx, bookkeepingKey, raw)
	})
}
