// Package id generates prefixed, K-sortable identifiers ("job_01h2x...").
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in an id
type Prefix string

const (
	PrefixLedgerEntry Prefix = "le"
	PrefixJob         Prefix = "job"
	PrefixRequest     Prefix = "req"
)

// New generates an id with the given prefix.
// It panics on an invalid prefix, which is a programming error.
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// NewJobID generates a job id
func NewJobID() string { return New(PrefixJob) }

// NewLedgerEntryID generates a ledger entry id
func NewLedgerEntryID() string { return New(PrefixLedgerEntry) }

// Validate checks that s parses as an id carrying the expected prefix
func Validate(s string, expected Prefix) error {
	if s == "" {
		return fmt.Errorf("id: empty %s id", expected)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return fmt.Errorf("id: parse %q: %w", s, err)
	}
	if Prefix(tid.Prefix()) != expected {
		return fmt.Errorf("id: expected prefix %q, got %q", expected, tid.Prefix())
	}
	return nil
}
