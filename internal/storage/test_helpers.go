package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sasha9954/photostudio-core/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// NewTestSQLiteStore opens a migrated SQLite store in a temp dir, closed on cleanup
func NewTestSQLiteStore(t testing.TB) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	if err := RunMigrations(config.DriverSQLite, "sqlite://"+path); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	store, err := OpenSQLite(path, 5*time.Second)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
