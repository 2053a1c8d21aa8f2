package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/aristath/watchpost/internal/auth"
)

// rateLimitWindow is the fixed window spec §4.J's monitor-create limiter
// resets on.
const rateLimitWindow = time.Hour

// RateLimiter is a fixed-window limiter keyed by client IP, guarded by its
// own mutex — the event bus and the store are this process's only other
// shared mutable state (spec §5 Shared-resource discipline). Grounded on
// the teacher pack's infrastructure/middleware/ratelimit.go shape (a
// map[string]*limiter behind a mutex), adapted from its token-bucket
// golang.org/x/time/rate limiter to a plain fixed-window counter since
// that is the algorithm spec §4.J names.
type RateLimiter struct {
	mu     sync.Mutex
	counts map[string]*windowCount
	limit  int
}

type windowCount struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter builds a RateLimiter allowing limit requests per IP per
// rateLimitWindow.
func NewRateLimiter(limit int) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	return &RateLimiter{counts: make(map[string]*windowCount), limit: limit}
}

// Allow reports whether key may proceed, incrementing its window counter
// as a side effect.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	wc, ok := rl.counts[key]
	if !ok || now.Sub(wc.windowStart) >= rateLimitWindow {
		rl.counts[key] = &windowCount{count: 1, windowStart: now}
		return true
	}
	if wc.count >= rl.limit {
		return false
	}
	wc.count++
	return true
}

// Middleware rejects over-limit requests with 429 + RATE_LIMIT_EXCEEDED,
// keyed by auth.ClientIP.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(auth.ClientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "too many monitor creates from this address")
			return
		}
		next.ServeHTTP(w, r)
	})
}
