package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/sasha9954/photostudio-core/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryProvider represents generation provider errors
	CategoryProvider ErrorCategory = "provider"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryAuthorization represents authorization errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategoryPayment represents balance errors
	CategoryPayment ErrorCategory = "payment"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// Sentinels matched with errors.Is against any CategorizedError of the same code
var (
	ErrInsufficientFunds = &CategorizedError{Code: "INSUFFICIENT_CREDITS"}
	ErrAlreadyRunning    = &CategorizedError{Code: "ALREADY_RUNNING"}
	ErrNotFound          = &CategorizedError{Code: "NOT_FOUND"}
	ErrInvalidAmount     = &CategorizedError{Code: "INVALID_AMOUNT"}
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// Is matches on Code so sentinels compare equal to constructed errors.
// NOT_FOUND sentinels also match the resource specific *_NOT_FOUND codes.
func (e *CategorizedError) Is(target error) bool {
	t, ok := target.(*CategorizedError)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return t == ErrNotFound && e.Category == CategoryNotFound
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// User Input Errors (4xx)

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]any{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewInvalidAmountError rejects a zero, negative or out of range amount
func NewInvalidAmountError(amount int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       ErrInvalidAmount.Code,
		Message:    fmt.Sprintf("invalid amount: %d", amount),
		Details: map[string]any{
			"amount": amount,
		},
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       ErrNotFound.Code,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]any{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewJobNotFoundError is returned for unknown job ids and for jobs owned by another account alike
func NewJobNotFoundError(jobID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "JOB_NOT_FOUND",
		Message:    "job not found",
		Details: map[string]any{
			"jobId": jobID,
		},
	}
}

// NewInsufficientFundsError reports a debit that would take the balance below zero
func NewInsufficientFundsError(balance, amount int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPayment,
		StatusCode: http.StatusPaymentRequired,
		Code:       ErrInsufficientFunds.Code,
		Message:    "not enough credits",
		Details: map[string]any{
			"balance": balance,
			"need":    amount,
		},
	}
}

// NewAlreadyRunningError reports a held run lock for the resource key
func NewAlreadyRunningError(resourceKey string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       ErrAlreadyRunning.Code,
		Message:    fmt.Sprintf("a %s job is already running", resourceKey),
		Details: map[string]any{
			"resourceKey": resourceKey,
		},
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		Details: map[string]any{
			"retryAfter": retryAfter,
		},
	}
}

// System Errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]any{
			"operation": operation,
		},
	}
}

// NewExternalCallError wraps a failed generation provider call
func NewExternalCallError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       "EXTERNAL_CALL_FAILED",
		Message:    fmt.Sprintf("generation provider error: %s", provider),
		Cause:      cause,
		Details: map[string]any{
			"provider": provider,
		},
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(service string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    fmt.Sprintf("service unavailable: %s", service),
		Details: map[string]any{
			"service": service,
		},
	}
}

// Categorize categorizes an existing error, looking through wrapping
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	status, category := http.StatusInternalServerError, CategorySystem
	switch err.Code {
	case "INVALID_PARAMETER", "INVALID_AMOUNT":
		status, category = http.StatusBadRequest, CategoryValidation
	case "NOT_FOUND", "JOB_NOT_FOUND":
		status, category = http.StatusNotFound, CategoryNotFound
	case "INSUFFICIENT_CREDITS":
		status, category = http.StatusPaymentRequired, CategoryPayment
	case "ALREADY_RUNNING":
		status, category = http.StatusConflict, CategoryConflict
	case "UNAUTHORIZED":
		status, category = http.StatusUnauthorized, CategoryAuthorization
	}
	return &CategorizedError{
		Category:   category,
		StatusCode: status,
		Code:       err.Code,
		Message:    err.Message,
		Details:    err.Details,
	}
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryProvider, CategoryDatabase:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// DebugCause renders the internal cause for debug responses, truncated to at most
// max bytes without splitting a UTF-8 sequence
func DebugCause(err error, max int) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if max > 0 && len(msg) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		return msg[:cut] + "..."
	}
	return msg
}
