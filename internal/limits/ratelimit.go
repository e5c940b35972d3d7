// Package limits implements the sliding-window rate limiter and the per-user
// connection cap on top of the shared key-value store.
package limits

import (
	"context"
	"log/slog"
	"time"

	"github.com/pulsegate/backend/internal/config"
	"github.com/pulsegate/backend/internal/kvstore"
)

// RateLimiter enforces a sliding-window request rate per key. The window is a
// sorted set whose members are request timestamps; each check prunes entries
// older than the window, compares cardinality against the limit, and records
// the new request. The set's TTL is twice the window so idle keys expire on
// their own.
type RateLimiter struct {
	store    kvstore.Store
	failMode config.FailMode
	now      func() time.Time
}

// NewRateLimiter builds a limiter with the given store outage policy.
// Message-rate and HTTP limiting use fail-open; admission paths construct
// their own fail-closed gates.
func NewRateLimiter(store kvstore.Store, failMode config.FailMode) *RateLimiter {
	return &RateLimiter{store: store, failMode: failMode, now: time.Now}
}

// SetClock overrides the time source for tests.
func (l *RateLimiter) SetClock(now func() time.Time) { l.now = now }

// Check records one request against key and reports whether it is admitted
// and how many requests remain in the current window. burst, when positive,
// caps the effective limit below limit. key should come from
// kvstore.RateLimitKey.
func (l *RateLimiter) Check(ctx context.Context, key string, limit int, window time.Duration, burst int) (allowed bool, remaining int) {
	nowSec := float64(l.now().UnixNano()) / float64(time.Second)
	windowStart := nowSec - window.Seconds()

	card, err := l.store.PruneAndCount(ctx, key, windowStart)
	if err != nil {
		return l.onStoreError(key, limit, err)
	}

	effective := limit
	if burst > 0 && burst < limit {
		effective = burst
	}
	if card >= int64(effective) {
		return false, 0
	}

	if err := l.store.AddToWindow(ctx, key, nowSec, 2*window); err != nil {
		return l.onStoreError(key, limit, err)
	}
	return true, effective - int(card) - 1
}

func (l *RateLimiter) onStoreError(key string, limit int, err error) (bool, int) {
	slog.Warn("rate limit store unavailable", "key", key, "fail_mode", string(l.failMode), "error", err)
	if l.failMode == config.FailClosed {
		return false, 0
	}
	return true, limit
}
