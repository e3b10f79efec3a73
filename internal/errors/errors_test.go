package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/sasha9954/photostudio-core/internal/types"
)

func TestSentinelsMatchConstructedErrors(t *testing.T) {
	wrapped := fmt.Errorf("debit: %w", NewInsufficientFundsError(3, 5))

	assert.True(t, stderrors.Is(wrapped, ErrInsufficientFunds))
	assert.False(t, stderrors.Is(wrapped, ErrAlreadyRunning))
	assert.True(t, stderrors.Is(NewAlreadyRunningError("FULL"), ErrAlreadyRunning))
	assert.True(t, stderrors.Is(NewJobNotFoundError("job_x"), ErrNotFound))
	assert.True(t, stderrors.Is(NewNotFoundError("session", "x"), ErrNotFound))
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"insufficient funds", NewInsufficientFundsError(0, 1), http.StatusPaymentRequired, "INSUFFICIENT_CREDITS"},
		{"wrapped conflict", fmt.Errorf("launch: %w", NewAlreadyRunningError("LEGS")), http.StatusConflict, "ALREADY_RUNNING"},
		{"service error", &types.ServiceError{Code: "JOB_NOT_FOUND", Message: "job not found"}, http.StatusNotFound, "JOB_NOT_FOUND"},
		{"plain error", stderrors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"provider", NewExternalCallError("gemini", stderrors.New("503")), http.StatusBadGateway, "EXTERNAL_CALL_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Categorize(tt.err)
			assert.Equal(t, tt.wantStatus, got.StatusCode)
			assert.Equal(t, tt.wantCode, got.Code)
		})
	}

	assert.Nil(t, Categorize(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewDatabaseError("insert", stderrors.New("locked"))))
	assert.True(t, IsRetryable(NewServiceUnavailableError("redis")))
	assert.False(t, IsRetryable(NewInsufficientFundsError(0, 1)))
	assert.False(t, IsRetryable(NewInternalError("x", nil)))
}

func TestDebugCause(t *testing.T) {
	long := stderrors.New(strings.Repeat("a", 50))
	assert.Equal(t, strings.Repeat("a", 10)+"...", DebugCause(long, 10))
	assert.Equal(t, "short", DebugCause(stderrors.New("short"), 10))
	assert.Empty(t, DebugCause(nil, 10))

	tests := []struct {
		msg  string
		max  int
		want string
	}{
		{"héllo", 2, "h..."},
		{"héllo", 3, "hé..."},
		{"日本語のエラー", 4, "日..."},
		{"日本語のエラー", 2, "..."},
	}
	for _, tt := range tests {
		got := DebugCause(stderrors.New(tt.msg), tt.max)
		assert.Equal(t, tt.want, got, "%q cut at %d", tt.msg, tt.max)
		assert.True(t, utf8.ValidString(got))
	}
}
