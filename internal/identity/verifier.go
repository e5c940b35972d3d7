package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pulsegate/backend/internal/config"
)

// FailureKind classifies verification failures. Invalid and Expired are
// client faults; ProviderUnavailable means the key material could not be
// obtained and is reported distinctly for metrics. None of them fall back to
// unauthenticated access.
type FailureKind int

const (
	FailureInvalid FailureKind = iota
	FailureExpired
	FailureProviderUnavailable
)

func (k FailureKind) String() string {
	switch k {
	case FailureInvalid:
		return "invalid"
	case FailureExpired:
		return "expired"
	case FailureProviderUnavailable:
		return "provider_unavailable"
	default:
		return "unknown"
	}
}

type VerifyError struct {
	Kind FailureKind
	Err  error
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("token verification failed (%s): %v", e.Kind, e.Err)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// providerError marks keyfunc failures caused by the identity provider, so
// they classify as ProviderUnavailable instead of Invalid.
type providerError struct{ err error }

func (e *providerError) Error() string { return e.err.Error() }
func (e *providerError) Unwrap() error { return e.err }

// Verifier validates bearer tokens and produces Principals. Validated claims
// are cached by token hash so repeat connections skip signature verification.
type Verifier struct {
	cache     *ClaimCache
	keyfunc   jwt.Keyfunc
	methods   []string
	roleClaim string
	observe   func(result string)
	now       func() time.Time
}

// NewVerifier builds the production verifier: RS256 against the realm JWKS.
func NewVerifier(kc config.KeycloakConfig, cache *ClaimCache, observe func(result string)) *Verifier {
	jwks := newJWKSCache(kc.JWKSURL(), nil)
	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid in token header")
		}
		key, err := jwks.publicKey(kid)
		if err != nil {
			return nil, &providerError{err}
		}
		return key, nil
	}
	return newVerifier(keyfunc, []string{"RS256"}, kc.RoleClaim, cache, observe)
}

// NewVerifierWithKeyfunc injects the key source; tests use it with HS256.
func NewVerifierWithKeyfunc(keyfunc jwt.Keyfunc, methods []string, roleClaim string, cache *ClaimCache, observe func(result string)) *Verifier {
	return newVerifier(keyfunc, methods, roleClaim, cache, observe)
}

func newVerifier(keyfunc jwt.Keyfunc, methods []string, roleClaim string, cache *ClaimCache, observe func(result string)) *Verifier {
	if observe == nil {
		observe = func(string) {}
	}
	if roleClaim == "" {
		roleClaim = "realm_access.roles"
	}
	return &Verifier{
		cache:     cache,
		keyfunc:   keyfunc,
		methods:   methods,
		roleClaim: roleClaim,
		observe:   observe,
		now:       time.Now,
	}
}

// Verify validates the token and returns the principal. Cached claims short-
// circuit signature verification; cache errors degrade to a full check.
func (v *Verifier) Verify(ctx context.Context, token string) (*Principal, error) {
	if v.cache != nil {
		if claims, ok := v.cache.Get(ctx, token); ok {
			if p, err := principalFromClaims(claims, v.roleClaim); err == nil && p.Expiry.After(v.now()) {
				v.observe("cache_hit")
				return p, nil
			}
		}
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, v.keyfunc, jwt.WithValidMethods(v.methods))
	if err != nil {
		verr := &VerifyError{Kind: classify(err), Err: err}
		v.observe(verr.Kind.String())
		return nil, verr
	}

	p, err := principalFromClaims(claims, v.roleClaim)
	if err != nil {
		verr := &VerifyError{Kind: FailureInvalid, Err: err}
		v.observe(verr.Kind.String())
		return nil, verr
	}

	if v.cache != nil {
		v.cache.Put(ctx, token, claims)
	}
	v.observe("verified")
	return p, nil
}

func classify(err error) FailureKind {
	var pe *providerError
	if errors.As(err, &pe) {
		return FailureProviderUnavailable
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return FailureExpired
	}
	return FailureInvalid
}
