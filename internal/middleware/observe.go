package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pulsegate/backend/internal/identity"
	"github.com/pulsegate/backend/internal/metrics"
)

// RequestLogger emits one debug line per completed request with the request
// attributes attached.
func RequestLogger() Middleware {
	return Middleware{
		Name: NameRequestLogger,
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sw := &statusWriter{ResponseWriter: w}
				start := time.Now()
				next.ServeHTTP(sw, r)

				attrs := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", sw.Status(),
					"duration_ms", time.Since(start).Milliseconds(),
				}
				if p := identity.PrincipalFrom(r.Context()); p != nil {
					attrs = append(attrs, "user", p.Username)
				}
				slog.DebugContext(r.Context(), "http request", attrs...)
			})
		},
	}
}

// Observe records the request counter, latency histogram, and in-progress
// gauge.
func Observe(m *metrics.Metrics) Middleware {
	return Middleware{
		Name: NameMetrics,
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				m.HTTPInProgress.Inc()
				defer m.HTTPInProgress.Dec()

				sw := &statusWriter{ResponseWriter: w}
				start := time.Now()
				next.ServeHTTP(sw, r)

				m.HTTPRequestsTotal.WithLabelValues(
					r.Method, r.URL.Path, strconv.Itoa(sw.Status())).Inc()
				m.HTTPRequestDuration.WithLabelValues(
					r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
			})
		},
	}
}
