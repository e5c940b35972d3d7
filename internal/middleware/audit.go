package middleware

import (
	"net/http"
	"time"

	"github.com/pulsegate/backend/internal/audit"
	"github.com/pulsegate/backend/internal/identity"
	"github.com/pulsegate/backend/internal/logging"
)

// Audit records one entry per HTTP request. Panics are recorded with outcome
// error and re-raised. Runs after auth so the entry carries the principal.
func Audit(pipeline *audit.Pipeline) Middleware {
	return Middleware{
		Name:     NameAudit,
		Requires: []string{NameAuth},
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sw := &statusWriter{ResponseWriter: w}
				start := time.Now()

				defer func() {
					entry := audit.Entry{
						ActionType: r.Method,
						Resource:   r.URL.Path,
						IPAddress:  logging.ClientIPFrom(r.Context()),
						UserAgent:  r.UserAgent(),
						RequestID:  logging.CorrelationID(r.Context()),
						DurationMS: time.Since(start).Milliseconds(),
					}
					if p := identity.PrincipalFrom(r.Context()); p != nil {
						entry.UserID = p.UserID
						entry.Username = p.Username
						entry.UserRoles = p.Roles
					}

					if rec := recover(); rec != nil {
						entry.Outcome = audit.OutcomeError
						entry.ResponseStatus = http.StatusInternalServerError
						pipeline.Record(entry)
						panic(rec)
					}

					status := sw.Status()
					entry.ResponseStatus = status
					switch {
					case status == http.StatusForbidden:
						entry.Outcome = audit.OutcomePermissionDenied
					case status >= http.StatusInternalServerError:
						entry.Outcome = audit.OutcomeError
					default:
						entry.Outcome = audit.OutcomeSuccess
					}
					pipeline.Record(entry)
				}()

				next.ServeHTTP(sw, r)
			})
		},
	}
}
