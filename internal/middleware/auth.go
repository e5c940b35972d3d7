package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pulsegate/backend/internal/identity"
)

// Auth validates the bearer token and attaches the principal to the request
// context. Unauthenticated requests continue; endpoints that require auth
// enforce it individually. With debugBypass set (never in production),
// requests without a token get a synthetic admin principal.
func Auth(verifier *identity.Verifier, debugBypass bool) Middleware {
	return Middleware{
		Name: NameAuth,
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				token := bearerToken(r)
				if token == "" {
					if debugBypass {
						p := identity.NewPrincipal("debug", "debug",
							[]string{"admin"}, time.Now().Add(time.Hour))
						r = r.WithContext(identity.WithPrincipal(r.Context(), p))
					}
					next.ServeHTTP(w, r)
					return
				}

				p, err := verifier.Verify(r.Context(), token)
				if err != nil {
					slog.DebugContext(r.Context(), "bearer token rejected", "error", err)
					next.ServeHTTP(w, r)
					return
				}
				next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), p)))
			})
		},
	}
}

// bearerToken extracts the token from the Authorization header, falling back
// to the Authorization query parameter for browser WebSocket clients that
// cannot set headers.
func bearerToken(r *http.Request) string {
	value := r.Header.Get("Authorization")
	if value == "" {
		value = r.URL.Query().Get("Authorization")
	}
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "Bearer ") || strings.HasPrefix(value, "bearer ") {
		return strings.TrimSpace(value[len("Bearer "):])
	}
	return strings.TrimSpace(value)
}
