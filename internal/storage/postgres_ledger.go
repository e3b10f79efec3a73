package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sasha9954/photostudio-core/internal/models"
	"github.com/sasha9954/photostudio-core/internal/types"
)

type pgLedgerTx struct {
	tx        pgx.Tx
	accountID string
}

// WithAccountTx runs fn while holding the account's advisory lock
func (s *PostgresStore) WithAccountTx(ctx context.Context, accountID string, fn func(tx LedgerTx) error) error {
	return s.withLockedTx(ctx, "ledger:"+accountID, func(tx pgx.Tx) error {
		return fn(&pgLedgerTx{tx: tx, accountID: accountID})
	})
}

func (t *pgLedgerTx) SumDeltas(ctx context.Context) (int64, error) {
	var sum int64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0)::BIGINT FROM ledger_entries WHERE account_id = $1`,
		t.accountID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return sum, nil
}

func (t *pgLedgerTx) SumDeltasByRef(ctx context.Context, ref string) (int64, error) {
	var sum int64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0)::BIGINT FROM ledger_entries WHERE account_id = $1 AND ref = $2`,
		t.accountID, ref,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger by ref: %w", err)
	}
	return sum, nil
}

func (t *pgLedgerTx) InsertEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.AccountID != t.accountID {
		return fmt.Errorf("entry account %q outside transaction account %q", entry.AccountID, t.accountID)
	}
	var ref *string
	if entry.Ref != "" {
		ref = &entry.Ref
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, account_id, delta, reason, ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.AccountID, entry.Delta, string(entry.Reason), ref, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// ListEntries returns the most recent entries first
func (s *PostgresStore) ListEntries(ctx context.Context, accountID string, limit int) ([]*models.LedgerEntry, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, account_id, delta, reason, COALESCE(ref, ''), created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var reason string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &reason, &e.Ref, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Reason = types.Reason(reason)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// ListAccountBalances returns the stored sum per account
func (s *PostgresStore) ListAccountBalances(ctx context.Context) ([]*models.AccountBalance, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT account_id, SUM(delta)::BIGINT, COUNT(*)
		FROM ledger_entries
		GROUP BY account_id
		ORDER BY account_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var out []*models.AccountBalance
	for rows.Next() {
		var b models.AccountBalance
		if err := rows.Scan(&b.AccountID, &b.Sum, &b.Entries); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}
