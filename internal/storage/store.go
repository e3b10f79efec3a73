// Package storage provides database connections and the ledger, job and session stores.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sasha9954/photostudio-core/internal/config"
	"github.com/sasha9954/photostudio-core/internal/models"
)

// ErrNotFound is returned when a job or session row does not exist
var ErrNotFound = errors.New("storage: not found")

// LedgerTx is the view of one account's ledger inside its exclusive transaction
type LedgerTx interface {
	SumDeltas(ctx context.Context) (int64, error)
	SumDeltasByRef(ctx context.Context, ref string) (int64, error)
	InsertEntry(ctx context.Context, entry *models.LedgerEntry) error
}

// LedgerStore persists append-only ledger entries.
// WithAccountTx runs fn while holding the account's write lock; fn's error rolls back.
type LedgerStore interface {
	WithAccountTx(ctx context.Context, accountID string, fn func(tx LedgerTx) error) error
	ListEntries(ctx context.Context, accountID string, limit int) ([]*models.LedgerEntry, error)
	ListAccountBalances(ctx context.Context) ([]*models.AccountBalance, error)
}

// SessionTx reads and writes one session row inside its exclusive transaction
type SessionTx interface {
	Load(ctx context.Context) (data []byte, found bool, err error)
	Save(ctx context.Context, data []byte) error
}

// SessionStore persists per (account, resource key) JSON sessions
type SessionStore interface {
	WithSessionTx(ctx context.Context, accountID, resourceKey string, fn func(tx SessionTx) error) error
	GetSession(ctx context.Context, accountID, resourceKey string) ([]byte, error)
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// JobStore persists job records
type JobStore interface {
	CreateJob(ctx context.Context, job *models.JobRecord) error
	UpdateJob(ctx context.Context, jobID string, upd models.JobUpdate, now time.Time) error
	GetJob(ctx context.Context, jobID string) (*models.JobRecord, error)
	ListStaleJobs(ctx context.Context, before time.Time, limit int) ([]*models.JobRecord, error)
	// FailStaleJob moves a queued or running job not updated since before to error.
	// It reports false when the job finished or was touched in the meantime.
	FailStaleJob(ctx context.Context, jobID string, before time.Time, msg string, now time.Time) (bool, error)
	// TouchJob refreshes updated_at of a queued or running job
	TouchJob(ctx context.Context, jobID string, now time.Time) error
}

// Store bundles every store a backend provides
type Store interface {
	LedgerStore
	SessionStore
	JobStore
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend. Migrations are run separately.
func Open(cfg *config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := NewPostgresDB(&cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(db), nil
	case config.DriverSQLite:
		return OpenSQLite(cfg.SQLite.Path, cfg.SQLite.BusyTimeout)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
