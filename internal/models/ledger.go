// Package models provides data models for the photostudio backend.
package models

import (
	"time"

	"github.com/sasha9954/photostudio-core/internal/types"
)

// LedgerEntry is one immutable signed credit movement
type LedgerEntry struct {
	ID        string       `json:"id" db:"id"`
	AccountID string       `json:"accountId" db:"account_id"`
	Delta     int64        `json:"delta" db:"delta"`
	Reason    types.Reason `json:"reason" db:"reason"`
	Ref       string       `json:"ref,omitempty" db:"ref"`
	CreatedAt time.Time    `json:"createdAt" db:"created_at"`
}

// AccountBalance pairs an account with the stored sum of its deltas
type AccountBalance struct {
	AccountID string `json:"accountId" db:"account_id"`
	Sum       int64  `json:"sum" db:"sum"`
	Entries   int64  `json:"entries" db:"entries"`
}
