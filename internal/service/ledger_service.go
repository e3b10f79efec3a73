package service

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/sasha9954/photostudio-core/internal/errors"
	"github.com/sasha9954/photostudio-core/internal/id"
	"github.com/sasha9954/photostudio-core/internal/logging"
	"github.com/sasha9954/photostudio-core/internal/models"
	"github.com/sasha9954/photostudio-core/internal/storage"
	"github.com/sasha9954/photostudio-core/internal/types"
)

const (
	DefaultLedgerLimit = 50
	MaxLedgerLimit     = 200
)

// BalanceCache is the read-through cache consulted by Balance.
// Writes drop the entry and Balance refills it, both while holding the account's
// transaction, so a fill can never land after a later write.
type BalanceCache interface {
	Get(ctx context.Context, accountID string) (int64, bool, error)
	Set(ctx context.Context, accountID string, balance int64) error
	Invalidate(ctx context.Context, accountID string) error
}

// LedgerService owns the credit ledger of every account.
// All writes for one account run inside that account's exclusive transaction,
// so the balance check and the append it guards cannot interleave with another write.
type LedgerService struct {
	store storage.LedgerStore
	cache BalanceCache
	now   func() time.Time
}

// NewLedgerService creates a ledger service; cache may be nil
func NewLedgerService(store storage.LedgerStore, cache BalanceCache) *LedgerService {
	return &LedgerService{
		store: store,
		cache: cache,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Append writes one signed entry. A debit that would take the balance below zero
// fails with an insufficient funds error and writes nothing.
func (s *LedgerService) Append(ctx context.Context, accountID string, delta int64, reason types.Reason, ref string) (string, error) {
	if delta == 0 {
		return "", apperrors.NewInvalidAmountError(delta)
	}
	entryID, _, err := s.apply(ctx, accountID, delta, reason, ref)
	return entryID, err
}

// Debit subtracts amount from the balance and returns the new balance
func (s *LedgerService) Debit(ctx context.Context, accountID string, amount int64, reason types.Reason, ref string) (int64, error) {
	if amount <= 0 {
		return 0, apperrors.NewInvalidAmountError(amount)
	}
	_, balance, err := s.apply(ctx, accountID, -amount, reason, ref)
	return balance, err
}

// Credit adds amount to the balance and returns the new balance
func (s *LedgerService) Credit(ctx context.Context, accountID string, amount int64, reason types.Reason, ref string) (int64, error) {
	if amount <= 0 {
		return 0, apperrors.NewInvalidAmountError(amount)
	}
	_, balance, err := s.apply(ctx, accountID, amount, reason, ref)
	return balance, err
}

// Refund credits back whatever is still owed on ref and returns the refunded amount.
// Entries carrying ref are netted, so calling it twice refunds once.
func (s *LedgerService) Refund(ctx context.Context, accountID, ref string, reason types.Reason) (int64, error) {
	if ref == "" {
		return 0, apperrors.NewInvalidParameterError("ref", "refund needs the ref of the original charge")
	}

	var refunded int64
	err := s.store.WithAccountTx(ctx, accountID, func(tx storage.LedgerTx) error {
		net, err := tx.SumDeltasByRef(ctx, ref)
		if err != nil {
			return err
		}
		if net >= 0 {
			return nil
		}

		if _, err := s.healedSum(ctx, tx, accountID); err != nil {
			return err
		}
		refunded = -net
		if err := tx.InsertEntry(ctx, s.newEntry(accountID, refunded, reason, ref)); err != nil {
			return err
		}
		s.invalidateBalance(ctx, accountID)
		return nil
	})
	if err != nil {
		return 0, apperrors.NewDatabaseError("refund", err)
	}

	if refunded > 0 {
		logging.FromContext(ctx).WithFields(map[string]any{
			"account_id": accountID,
			"ref":        ref,
			"amount":     refunded,
		}).Info("ledger refund applied")
	}
	return refunded, nil
}

// Balance returns the sum of the account's deltas.
// A negative sum is corrected to zero with an AUTO_CORRECTION entry.
func (s *LedgerService) Balance(ctx context.Context, accountID string) (int64, error) {
	if s.cache != nil {
		balance, ok, err := s.cache.Get(ctx, accountID)
		if err != nil {
			logging.FromContext(ctx).WithError(err).Warn("balance cache read failed")
		} else if ok {
			return balance, nil
		}
	}

	var balance int64
	err := s.store.WithAccountTx(ctx, accountID, func(tx storage.LedgerTx) error {
		var err error
		if balance, err = s.healedSum(ctx, tx, accountID); err != nil {
			return err
		}
		s.cacheBalance(ctx, accountID, balance)
		return nil
	})
	if err != nil {
		s.invalidateBalance(ctx, accountID)
		return 0, apperrors.NewDatabaseError("balance", err)
	}
	return balance, nil
}

// List returns the most recent entries first; limit is clamped to [1, 200], default 50
func (s *LedgerService) List(ctx context.Context, accountID string, limit int) ([]*models.LedgerEntry, error) {
	entries, err := s.store.ListEntries(ctx, accountID, ClampLedgerLimit(limit))
	if err != nil {
		return nil, apperrors.NewDatabaseError("list ledger", err)
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	return entries, nil
}

// ClampLedgerLimit applies the default and bounds of List
func ClampLedgerLimit(limit int) int {
	if limit <= 0 {
		return DefaultLedgerLimit
	}
	if limit > MaxLedgerLimit {
		return MaxLedgerLimit
	}
	return limit
}

func (s *LedgerService) apply(ctx context.Context, accountID string, delta int64, reason types.Reason, ref string) (string, int64, error) {
	entry := s.newEntry(accountID, delta, reason, ref)
	var next int64

	err := s.store.WithAccountTx(ctx, accountID, func(tx storage.LedgerTx) error {
		balance, err := s.healedSum(ctx, tx, accountID)
		if err != nil {
			return err
		}
		next = balance + delta
		if delta < 0 && next < 0 {
			return apperrors.NewInsufficientFundsError(balance, -delta)
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		s.invalidateBalance(ctx, accountID)
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInsufficientFunds) {
			return "", 0, err
		}
		return "", 0, apperrors.NewDatabaseError("append ledger entry", err)
	}
	return entry.ID, next, nil
}

// healedSum returns the account's sum, first writing a correction entry if it is negative
func (s *LedgerService) healedSum(ctx context.Context, tx storage.LedgerTx, accountID string) (int64, error) {
	sum, err := tx.SumDeltas(ctx)
	if err != nil {
		return 0, err
	}
	if sum >= 0 {
		return sum, nil
	}

	if err := tx.InsertEntry(ctx, s.newEntry(accountID, -sum, types.ReasonAutoCorrection, types.RefNegativeBalance)); err != nil {
		return 0, err
	}
	logging.FromContext(ctx).WithFields(map[string]any{
		"account_id": accountID,
		"sum":        sum,
		"correction": -sum,
	}).Warn("negative ledger sum corrected to zero")
	return 0, nil
}

func (s *LedgerService) newEntry(accountID string, delta int64, reason types.Reason, ref string) *models.LedgerEntry {
	return &models.LedgerEntry{
		ID:        id.NewLedgerEntryID(),
		AccountID: accountID,
		Delta:     delta,
		Reason:    reason,
		Ref:       ref,
		CreatedAt: s.now(),
	}
}

func (s *LedgerService) cacheBalance(ctx context.Context, accountID string, balance int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, accountID, balance); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("account_id", accountID).Warn("balance cache write failed")
	}
}

// invalidateBalance drops the cached balance; entries also expire with the cache TTL
func (s *LedgerService) invalidateBalance(ctx context.Context, accountID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, accountID); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("account_id", accountID).Warn("balance cache invalidation failed")
	}
}
