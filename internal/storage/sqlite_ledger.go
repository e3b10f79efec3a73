package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sasha9954/photostudio-core/internal/models"
	"github.com/sasha9954/photostudio-core/internal/types"
)

type sqliteLedgerTx struct {
	tx        *sql.Tx
	accountID string
}

// WithAccountTx runs fn inside a BEGIN IMMEDIATE transaction
func (s *SQLiteStore) WithAccountTx(ctx context.Context, accountID string, fn func(tx LedgerTx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&sqliteLedgerTx{tx: tx, accountID: accountID})
	})
}

func (t *sqliteLedgerTx) SumDeltas(ctx context.Context) (int64, error) {
	var sum int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE account_id = ?`,
		t.accountID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return sum, nil
}

func (t *sqliteLedgerTx) SumDeltasByRef(ctx context.Context, ref string) (int64, error) {
	var sum int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE account_id = ? AND ref = ?`,
		t.accountID, ref,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger by ref: %w", err)
	}
	return sum, nil
}

func (t *sqliteLedgerTx) InsertEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.AccountID != t.accountID {
		return fmt.Errorf("entry account %q outside transaction account %q", entry.AccountID, t.accountID)
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, account_id, delta, reason, ref, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.AccountID, entry.Delta, string(entry.Reason), nullString(entry.Ref), toMillis(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// ListEntries returns the most recent entries first
func (s *SQLiteStore) ListEntries(ctx context.Context, accountID string, limit int) ([]*models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, delta, reason, COALESCE(ref, ''), created_at
		FROM ledger_entries
		WHERE account_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var reason string
		var created int64
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &reason, &e.Ref, &created); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Reason = types.Reason(reason)
		e.CreatedAt = fromMillis(created)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// ListAccountBalances returns the stored sum per account
func (s *SQLiteStore) ListAccountBalances(ctx context.Context) ([]*models.AccountBalance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, SUM(delta), COUNT(*)
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

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
