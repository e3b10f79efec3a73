// Package types provides common type definitions for the photostudio backend.
package types

import "fmt"

// JobState represents the lifecycle state of a generation job
type JobState string

const (
	// JobStateQueued represents a job created but not yet picked up
	JobStateQueued JobState = "queued"
	// JobStateRunning represents a job whose unit of work is executing
	JobStateRunning JobState = "running"
	// JobStateDone represents a successfully completed job
	JobStateDone JobState = "done"
	// JobStateError represents a failed job
	JobStateError JobState = "error"
)

// Valid reports whether s is one of the known job states
func (s JobState) Valid() bool {
	switch s {
	case JobStateQueued, JobStateRunning, JobStateDone, JobStateError:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed out of s
func (s JobState) Terminal() bool {
	return s == JobStateDone || s == JobStateError
}

// CanTransition reports whether a job may move from s to next.
// Repeating the current non-terminal state is allowed (progress updates).
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobStateQueued:
		return next == JobStateQueued || next == JobStateRunning || next == JobStateError
	case JobStateRunning:
		return next == JobStateRunning || next == JobStateDone || next == JobStateError
	default:
		return false
	}
}

// Reason tags the cause of a ledger entry
type Reason string

const (
	ReasonTopup          Reason = "TOPUP"
	ReasonSpend          Reason = "SPEND"
	ReasonRefund         Reason = "REFUND"
	ReasonAutoCorrection Reason = "AUTO_CORRECTION"
	ReasonGeneration     Reason = "GENERATION"
)

// RefNegativeBalance is the ref of the entry written when a negative sum is healed
const RefNegativeBalance = "NEGATIVE_BALANCE"

// Job error messages recorded on the job record
const (
	JobErrAlreadyRunning    = "already_running"
	JobErrInsufficientFunds = "insufficient_credits"
	JobErrInterrupted       = "interrupted"
	JobErrExternalCall      = "external_call_failed" // prefix, followed by the provider's message
)

// ChargeRef is the ledger ref shared by a job's debit and its refund
func ChargeRef(resourceKey, jobID string) string {
	return fmt.Sprintf("%s:%s", resourceKey, jobID)
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
