package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type sqliteSessionTx struct {
	tx          *sql.Tx
	accountID   string
	resourceKey string
}

// WithSessionTx runs fn inside a BEGIN IMMEDIATE transaction
func (s *SQLiteStore) WithSessionTx(ctx context.Context, accountID, resourceKey string, fn func(tx SessionTx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&sqliteSessionTx{tx: tx, accountID: accountID, resourceKey: resourceKey})
	})
}

func (t *sqliteSessionTx) Load(ctx context.Context) ([]byte, bool, error) {
	var data string
	err := t.tx.QueryRowContext(ctx,
		`SELECT data FROM resource_sessions WHERE account_id = ? AND resource_key = ?`,
		t.accountID, t.resourceKey,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load session: %w", err)
	}
	return []byte(data), true, nil
}

func (t *sqliteSessionTx) Save(ctx context.Context, data []byte) error {
	now := toMillis(time.Now())
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO resource_sessions (account_id, resource_key, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_id, resource_key)
		DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, t.accountID, t.resourceKey, string(data), now, now)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession returns the raw session document
func (s *SQLiteStore) GetSession(ctx context.Context, accountID, resourceKey string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM resource_sessions WHERE account_id = ? AND resource_key = ?`,
		accountID, resourceKey,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return []byte(data), nil
}

// DeleteSessionsBefore removes sessions not updated since cutoff
func (s *SQLiteStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM resource_sessions WHERE updated_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return res.RowsAffected()
}
