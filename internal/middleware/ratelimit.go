package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/pulsegate/backend/internal/apperr"
	"github.com/pulsegate/backend/internal/config"
	"github.com/pulsegate/backend/internal/identity"
	"github.com/pulsegate/backend/internal/kvstore"
	"github.com/pulsegate/backend/internal/limits"
	"github.com/pulsegate/backend/internal/logging"
	"github.com/pulsegate/backend/internal/metrics"
)

// RateLimit enforces the per-minute HTTP request rate, keyed on the
// authenticated user when present, the client IP otherwise. It must run
// after auth, which resolves the principal.
func RateLimit(limiter *limits.RateLimiter, cfg config.RateLimitConfig, m *metrics.Metrics) Middleware {
	window := 60 // seconds
	return Middleware{
		Name:     NameRateLimit,
		Requires: []string{NameAuth},
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !cfg.Enabled {
					next.ServeHTTP(w, r)
					return
				}

				var key string
				if p := identity.PrincipalFrom(r.Context()); p != nil {
					key = kvstore.RateLimitKey("user", p.Username)
				} else {
					key = kvstore.RateLimitKey("ip", logging.ClientIPFrom(r.Context()))
				}

				allowed, remaining := limiter.Check(r.Context(), key, cfg.PerMinute,
					time.Minute, cfg.Burst)
				h := w.Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.PerMinute))
				if !allowed {
					if m != nil {
						m.RecordRateLimitHit("http")
					}
					h.Set("X-RateLimit-Remaining", "0")
					h.Set("X-RateLimit-Reset", strconv.Itoa(window))
					h.Set("Retry-After", strconv.Itoa(window))
					writeError(w, apperr.New(apperr.KindRateLimit, "Rate limit exceeded"))
					return
				}
				h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
				next.ServeHTTP(w, r)
			})
		},
	}
}
