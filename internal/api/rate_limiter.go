package api

import (
	"math"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	apperrors "github.com/sasha9954/photostudio-core/internal/errors"
)

// RateLimiter keeps one token bucket per account
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex

	limit     rate.Limit
	burstSize int
}

// NewRateLimiter creates a limiter allowing requestsPerMinute per account; zero disables limiting
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(float64(requestsPerMinute) / 60)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		limit:     limit,
		burstSize: burst,
	}
}

// getLimiter returns the rate limiter for an account
func (rl *RateLimiter) getLimiter(accountID string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[accountID]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check in case another goroutine created it
	if limiter, exists := rl.limiters[accountID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.limit, rl.burstSize)
	rl.limiters[accountID] = limiter

	return limiter
}

// retryAfterSeconds is how long until one token is available again
func (rl *RateLimiter) retryAfterSeconds() int {
	if rl.limit == rate.Inf || rl.limit <= 0 {
		return 1
	}
	return int(math.Ceil(1 / float64(rl.limit)))
}

// RateLimitMiddleware creates a middleware that enforces per-account rate limiting
func (s *Server) RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.getLimiter(accountFromContext(r.Context())).Allow() {
				s.respondError(w, r, apperrors.NewRateLimitError(rl.retryAfterSeconds()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
