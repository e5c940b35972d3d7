// Package identity verifies bearer tokens against the Keycloak realm and
// caches validated claims in the shared key-value store.
package identity

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Principal is the identity extracted from a validated bearer token. It is
// immutable for the lifetime of a connection; role checks use the roles
// captured here and never re-fetch.
type Principal struct {
	UserID   string
	Username string
	Roles    []string
	Expiry   time.Time

	roleSet map[string]struct{}
}

// NewPrincipal deduplicates and sorts the role list.
func NewPrincipal(userID, username string, roles []string, expiry time.Time) *Principal {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	deduped := make([]string, 0, len(set))
	for r := range set {
		deduped = append(deduped, r)
	}
	sort.Strings(deduped)
	return &Principal{
		UserID:   userID,
		Username: username,
		Roles:    deduped,
		Expiry:   expiry,
		roleSet:  set,
	}
}

// HasRole reports whether the principal holds the named role. Comparison is
// case-sensitive.
func (p *Principal) HasRole(role string) bool {
	_, ok := p.roleSet[role]
	return ok
}

// HasAllRoles reports whether the principal holds every named role.
func (p *Principal) HasAllRoles(roles []string) bool {
	for _, r := range roles {
		if !p.HasRole(r) {
			return false
		}
	}
	return true
}

// principalFromClaims maps a validated claims document to a Principal.
// roleClaim is a dot path into the claims, e.g. "realm_access.roles".
func principalFromClaims(claims map[string]any, roleClaim string) (*Principal, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("claims missing sub")
	}
	username, _ := claims["preferred_username"].(string)
	if username == "" {
		username = sub
	}

	var expiry time.Time
	switch exp := claims["exp"].(type) {
	case float64:
		expiry = time.Unix(int64(exp), 0)
	case int64:
		expiry = time.Unix(exp, 0)
	default:
		return nil, fmt.Errorf("claims missing exp")
	}

	return NewPrincipal(sub, username, rolesAt(claims, roleClaim), expiry), nil
}

// rolesAt walks the dot path and returns the string list found there, or nil.
func rolesAt(claims map[string]any, path string) []string {
	var node any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[part]
	}
	raw, ok := node.([]any)
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}
