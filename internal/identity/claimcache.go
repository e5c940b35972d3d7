package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pulsegate/backend/internal/kvstore"
)

// cacheExpiryMargin keeps cached claims from outliving the token: entries
// expire 30 seconds before the token does.
const cacheExpiryMargin = 30 * time.Second

// ClaimCache stores validated token claims keyed by the SHA-256 of the token
// bytes. The raw token is never written to the store. Every operation is
// fail-silent: a store outage degrades to cache misses, and the verifier
// falls back to full validation.
type ClaimCache struct {
	store kvstore.Store
	now   func() time.Time
}

func NewClaimCache(store kvstore.Store) *ClaimCache {
	return &ClaimCache{store: store, now: time.Now}
}

func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached claims for the token, or (nil, false) on a miss or
// any store error.
func (c *ClaimCache) Get(ctx context.Context, token string) (map[string]any, bool) {
	raw, err := c.store.Get(ctx, kvstore.TokenClaimsKey(tokenHash(token)))
	if err != nil {
		if err != kvstore.ErrNotFound {
			slog.Debug("claim cache read failed", "error", err)
		}
		return nil, false
	}
	var claims map[string]any
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, false
	}
	return claims, true
}

// Put caches the claims with TTL = exp − now − 30s. Tokens already within the
// margin of expiry are not cached.
func (c *ClaimCache) Put(ctx context.Context, token string, claims map[string]any) {
	exp, ok := claims["exp"].(float64)
	if !ok {
		return
	}
	ttl := time.Unix(int64(exp), 0).Sub(c.now()) - cacheExpiryMargin
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, kvstore.TokenClaimsKey(tokenHash(token)), raw, ttl); err != nil {
		slog.Debug("claim cache write failed", "error", err)
	}
}

// Invalidate drops the cached claims for the token, if any.
func (c *ClaimCache) Invalidate(ctx context.Context, token string) {
	if err := c.store.Del(ctx, kvstore.TokenClaimsKey(tokenHash(token))); err != nil {
		slog.Debug("claim cache invalidate failed", "error", err)
	}
}
