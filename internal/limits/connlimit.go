package limits

import (
	"context"
	"log/slog"
	"time"

	"github.com/pulsegate/backend/internal/kvstore"
)

// connSetTTL bounds how long a user's connection set can outlive the process
// that populated it; admission refreshes it.
const connSetTTL = time.Hour

// ConnLimiter caps concurrent WebSocket connections per user. The set of
// active connection IDs lives in the shared store so the cap holds across
// replicas. Admission is fail-closed: a store outage rejects new connections
// rather than admitting without bound.
type ConnLimiter struct {
	store kvstore.Store
	max   int
}

func NewConnLimiter(store kvstore.Store, maxPerUser int) *ConnLimiter {
	return &ConnLimiter{store: store, max: maxPerUser}
}

// TryAdmit reserves a slot for connID under username. False means the cap is
// reached or the store is unavailable.
func (l *ConnLimiter) TryAdmit(ctx context.Context, username, connID string) bool {
	key := kvstore.ConnectionsKey(username)
	card, err := l.store.SCard(ctx, key)
	if err != nil {
		slog.Warn("connection limiter store unavailable, rejecting", "user", username, "error", err)
		return false
	}
	if card >= int64(l.max) {
		return false
	}
	if err := l.store.SAdd(ctx, key, connID, connSetTTL); err != nil {
		slog.Warn("connection limiter admit failed, rejecting", "user", username, "error", err)
		return false
	}
	return true
}

// Release frees the slot. Releasing a connection that was never admitted is a
// no-op.
func (l *ConnLimiter) Release(ctx context.Context, username, connID string) {
	if err := l.store.SRem(ctx, kvstore.ConnectionsKey(username), connID); err != nil {
		slog.Warn("connection limiter release failed", "user", username, "conn_id", connID, "error", err)
	}
}

// Count reports the user's active connection count.
func (l *ConnLimiter) Count(ctx context.Context, username string) (int64, error) {
	return l.store.SCard(ctx, kvstore.ConnectionsKey(username))
}
