package limits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegate/backend/internal/config"
	"github.com/pulsegate/backend/internal/kvstore"
)

// brokenStore simulates a store outage for every operation.
type brokenStore struct {
	kvstore.Store
}

var errStoreDown = errors.New("store down")

func (brokenStore) PruneAndCount(context.Context, string, float64) (int64, error) {
	return 0, errStoreDown
}
func (brokenStore) AddToWindow(context.Context, string, float64, time.Duration) error {
	return errStoreDown
}
func (brokenStore) SCard(context.Context, string) (int64, error) { return 0, errStoreDown }
func (brokenStore) SAdd(context.Context, string, string, time.Duration) error {
	return errStoreDown
}

func TestRateLimitBoundary(t *testing.T) {
	store := kvstore.NewMemory()
	limiter := NewRateLimiter(store, config.FailOpen)

	base := time.Now()
	current := base
	clock := func() time.Time { return current }
	limiter.SetClock(clock)
	store.SetClock(clock)

	ctx := context.Background()
	key := kvstore.RateLimitKey("test", "alice")

	for i := 0; i < 10; i++ {
		current = base.Add(time.Duration(i) * time.Second)
		allowed, remaining := limiter.Check(ctx, key, 10, 60*time.Second, 0)
		require.True(t, allowed, "call %d should be admitted", i+1)
		assert.Equal(t, 9-i, remaining)
	}

	current = base.Add(11 * time.Second)
	allowed, remaining := limiter.Check(ctx, key, 10, 60*time.Second, 0)
	assert.False(t, allowed, "11th call within the window is rejected")
	assert.Zero(t, remaining)

	// The first entry was at base; it falls out of the window just after
	// base+60, admitting one more request.
	current = base.Add(61 * time.Second)
	allowed, _ = limiter.Check(ctx, key, 10, 60*time.Second, 0)
	assert.True(t, allowed)
}

func TestRateLimitBurstCapsEffectiveLimit(t *testing.T) {
	store := kvstore.NewMemory()
	limiter := NewRateLimiter(store, config.FailOpen)

	base := time.Now()
	current := base
	limiter.SetClock(func() time.Time { return current })

	ctx := context.Background()
	key := kvstore.RateLimitKey("test", "burst")

	for i := 0; i < 10; i++ {
		current = base.Add(time.Duration(i) * time.Millisecond)
		allowed, _ := limiter.Check(ctx, key, 60, time.Minute, 10)
		require.True(t, allowed, "call %d within burst", i+1)
	}
	current = base.Add(11 * time.Millisecond)
	allowed, _ := limiter.Check(ctx, key, 60, time.Minute, 10)
	assert.False(t, allowed, "burst of 10 rejects the 11th even with limit 60")
}

func TestRateLimitFailOpen(t *testing.T) {
	limiter := NewRateLimiter(brokenStore{}, config.FailOpen)
	allowed, remaining := limiter.Check(context.Background(), "rate_limit:test:x", 10, time.Minute, 0)
	assert.True(t, allowed)
	assert.Equal(t, 10, remaining)
}

func TestRateLimitFailClosed(t *testing.T) {
	limiter := NewRateLimiter(brokenStore{}, config.FailClosed)
	allowed, remaining := limiter.Check(context.Background(), "rate_limit:test:x", 10, time.Minute, 0)
	assert.False(t, allowed)
	assert.Zero(t, remaining)
}

func TestConnLimiterCap(t *testing.T) {
	store := kvstore.NewMemory()
	limiter := NewConnLimiter(store, 3)
	ctx := context.Background()

	require.True(t, limiter.TryAdmit(ctx, "alice", "c1"))
	require.True(t, limiter.TryAdmit(ctx, "alice", "c2"))
	require.True(t, limiter.TryAdmit(ctx, "alice", "c3"))
	assert.False(t, limiter.TryAdmit(ctx, "alice", "c4"), "4th connection exceeds the cap")

	// Another user has an independent set.
	assert.True(t, limiter.TryAdmit(ctx, "bob", "c5"))

	limiter.Release(ctx, "alice", "c2")
	assert.True(t, limiter.TryAdmit(ctx, "alice", "c4"), "a freed slot admits the waiting connection")

	count, err := limiter.Count(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestConnLimiterReleaseIdempotent(t *testing.T) {
	store := kvstore.NewMemory()
	limiter := NewConnLimiter(store, 2)
	ctx := context.Background()

	limiter.Release(ctx, "alice", "never-admitted")
	count, err := limiter.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestConnLimiterFailClosed(t *testing.T) {
	limiter := NewConnLimiter(brokenStore{}, 5)
	assert.False(t, limiter.TryAdmit(context.Background(), "alice", "c1"))
}
