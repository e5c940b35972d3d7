// Package audit implements the asynchronous audit trail: a bounded queue fed
// by request paths, a single batch writer draining it into Postgres, and
// payload sanitization before anything is queued.
package audit

import "time"

// Outcome of the audited action.
const (
	OutcomeSuccess          = "success"
	OutcomeError            = "error"
	OutcomePermissionDenied = "permission_denied"
)

// Entry is one audited user action. Entries are created in memory, queued,
// and persisted in batches; RequestData must already be sanitized.
type Entry struct {
	Timestamp      time.Time
	UserID         string
	Username       string
	UserRoles      []string
	ActionType     string // "GET", "POST", "WS:<pkg>", "WS:ERROR", ...
	Resource       string
	Outcome        string
	IPAddress      string
	UserAgent      string
	RequestID      string // correlation identifier
	RequestData    map[string]any
	ResponseStatus int
	ErrorMessage   string
	DurationMS     int64
}
