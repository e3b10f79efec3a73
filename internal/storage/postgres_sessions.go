package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type pgSessionTx struct {
	tx          pgx.Tx
	accountID   string
	resourceKey string
}

// WithSessionTx runs fn while holding the session's advisory lock
func (s *PostgresStore) WithSessionTx(ctx context.Context, accountID, resourceKey string, fn func(tx SessionTx) error) error {
	lockKey := fmt.Sprintf("session:%s:%s", accountID, resourceKey)
	return s.withLockedTx(ctx, lockKey, func(tx pgx.Tx) error {
		return fn(&pgSessionTx{tx: tx, accountID: accountID, resourceKey: resourceKey})
	})
}

func (t *pgSessionTx) Load(ctx context.Context) ([]byte, bool, error) {
	var data []byte
	err := t.tx.QueryRow(ctx,
		`SELECT data FROM resource_sessions WHERE account_id = $1 AND resource_key = $2`,
		t.accountID, t.resourceKey,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load session: %w", err)
	}
	return data, true, nil
}

func (t *pgSessionTx) Save(ctx context.Context, data []byte) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO resource_sessions (account_id, resource_key, data, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (account_id, resource_key)
		DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, t.accountID, t.resourceKey, string(data))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession returns the raw session document
func (s *PostgresStore) GetSession(ctx context.Context, accountID, resourceKey string) ([]byte, error) {
	var data []byte
	err := s.db.Pool().QueryRow(ctx,
		`SELECT data FROM resource_sessions WHERE account_id = $1 AND resource_key = $2`,
		accountID, resourceKey,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return data, nil
}

// DeleteSessionsBefore removes sessions not updated since cutoff
func (s *PostgresStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Pool().Exec(ctx, `DELETE FROM resource_sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
