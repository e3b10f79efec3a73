package storage

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/sasha9954/photostudio-core/internal/config"
	"github.com/sasha9954/photostudio-core/internal/storage/migrations"
)

// DatabaseURL builds the golang-migrate URL for the configured driver
func DatabaseURL(cfg *config.DatabaseConfig) string {
	if cfg.Driver == config.DriverPostgres {
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.Postgres.User, cfg.Postgres.Password),
			Host:     fmt.Sprintf("%s:%s", cfg.Postgres.Host, cfg.Postgres.Port),
			Path:     "/" + cfg.Postgres.Database,
			RawQuery: "sslmode=disable",
		}
		return u.String()
	}
	return "sqlite://" + cfg.SQLite.Path
}

func migrationSource(driver string) (source.Driver, error) {
	switch driver {
	case config.DriverPostgres:
		return iofs.New(migrations.Postgres, "postgres")
	case config.DriverSQLite:
		return iofs.New(migrations.SQLite, "sqlite")
	default:
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
}

func newMigrator(driver, databaseURL string) (*migrate.Migrate, error) {
	src, err := migrationSource(driver)
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations applies all pending migrations
func RunMigrations(driver, databaseURL string) error {
	m, err := newMigrator(driver, databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = m.Close()
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RollbackMigrations rolls back the last migration
func RollbackMigrations(driver, databaseURL string) error {
	m, err := newMigrator(driver, databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = m.Close()
	}()

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	return nil
}

// MigrationVersion returns the current migration version
func MigrationVersion(driver, databaseURL string) (version uint, dirty bool, err error) {
	m, err := newMigrator(driver, databaseURL)
	if err != nil {
		return 0, false, err
	}
	defer func() {
		_, _ = m.Close()
	}()

	version, dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}
