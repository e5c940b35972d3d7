// Package kvstore abstracts the shared key-value/counter store behind a
// minimal interface so components never import a concrete driver. The Redis
// adapter is the production implementation; the in-memory store backs tests.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get for a missing or expired key.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the contract the limiter, claim cache, and session sync depend on.
// All operations are atomic on the backing store; multi-step operations
// (prune+count, add+expire) run as one pipeline.
type Store interface {
	Ping(ctx context.Context) error

	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Sorted-set sliding window: remove members with score in [0, max], then
	// report the remaining cardinality.
	PruneAndCount(ctx context.Context, key string, max float64) (int64, error)
	// Add a timestamp member to the window and refresh the key TTL.
	AddToWindow(ctx context.Context, key string, score float64, ttl time.Duration) error

	// Plain-set operations for connection admission.
	SAdd(ctx context.Context, key, member string, ttl time.Duration) error
	SRem(ctx context.Context, key, member string) error
	SCard(ctx context.Context, key string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)

	Close() error
}

// Key layout shared across components. Only these constructors touch key
// syntax so the layout stays in one place.

func RateLimitKey(scope, subject string) string {
	return fmt.Sprintf("rate_limit:%s:%s", scope, subject)
}

func ConnectionsKey(username string) string {
	return "ws_connections:" + username
}

func SessionKey(username string) string {
	return "session:" + username
}

func TokenClaimsKey(sha256hex string) string {
	return "token:claims:" + sha256hex
}
