package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegate/backend/internal/kvstore"
)

var testSecret = []byte("unit-test-secret")

func testKeyfunc(t *jwt.Token) (any, error) { return testSecret, nil }

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func newTestVerifier(store kvstore.Store, observe func(string)) *Verifier {
	var cache *ClaimCache
	if store != nil {
		cache = NewClaimCache(store)
	}
	return NewVerifierWithKeyfunc(testKeyfunc, []string{"HS256"}, "realm_access.roles", cache, observe)
}

func TestVerifyValidToken(t *testing.T) {
	exp := time.Now().Add(10 * time.Minute)
	token := signToken(t, jwt.MapClaims{
		"sub":                "user-123",
		"preferred_username": "alice",
		"exp":                exp.Unix(),
		"realm_access":       map[string]any{"roles": []any{"user", "admin", "user"}},
	})

	v := newTestVerifier(nil, nil)
	p, err := v.Verify(context.Background(), token)
	require.NoError(t, err)

	assert.Equal(t, "user-123", p.UserID)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, []string{"admin", "user"}, p.Roles, "roles deduplicated and sorted")
	assert.WithinDuration(t, exp, p.Expiry, time.Second)
	assert.True(t, p.HasAllRoles([]string{"admin", "user"}))
	assert.False(t, p.HasRole("Admin"), "role comparison is case-sensitive")
}

func TestVerifyUsesClaimCache(t *testing.T) {
	store := kvstore.NewMemory()
	var results []string
	v := newTestVerifier(store, func(r string) { results = append(results, r) })

	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	ctx := context.Background()
	first, err := v.Verify(ctx, token)
	require.NoError(t, err)
	second, err := v.Verify(ctx, token)
	require.NoError(t, err)

	assert.Equal(t, first.UserID, second.UserID)
	assert.Equal(t, []string{"verified", "cache_hit"}, results)
}

func TestVerifyExpiredToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})

	v := newTestVerifier(nil, nil)
	_, err := v.Verify(context.Background(), token)

	var verr *VerifyError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, FailureExpired, verr.Kind)
}

func TestVerifyMalformedToken(t *testing.T) {
	v := newTestVerifier(nil, nil)
	_, err := v.Verify(context.Background(), "not-a-token")

	var verr *VerifyError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, FailureInvalid, verr.Kind)
}

func TestVerifyProviderUnavailable(t *testing.T) {
	down := func(t *jwt.Token) (any, error) {
		return nil, &providerError{errors.New("jwks endpoint unreachable")}
	}
	v := NewVerifierWithKeyfunc(down, []string{"HS256"}, "", nil, nil)

	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err := v.Verify(context.Background(), token)

	var verr *VerifyError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, FailureProviderUnavailable, verr.Kind)
}

func TestClaimCacheSkipsNearExpiryTokens(t *testing.T) {
	store := kvstore.NewMemory()
	cache := NewClaimCache(store)
	ctx := context.Background()

	// 10s to expiry is inside the 30s margin.
	cache.Put(ctx, "tok", map[string]any{
		"sub": "u",
		"exp": float64(time.Now().Add(10 * time.Second).Unix()),
	})
	_, ok := cache.Get(ctx, "tok")
	assert.False(t, ok)
}

func TestClaimCacheInvalidate(t *testing.T) {
	store := kvstore.NewMemory()
	cache := NewClaimCache(store)
	ctx := context.Background()

	claims := map[string]any{
		"sub": "u",
		"exp": float64(time.Now().Add(time.Hour).Unix()),
	}
	cache.Put(ctx, "tok", claims)
	_, ok := cache.Get(ctx, "tok")
	require.True(t, ok)

	cache.Invalidate(ctx, "tok")
	_, ok = cache.Get(ctx, "tok")
	assert.False(t, ok)
}
