package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PostgresWriter persists audit batches into the audit_logs table with one
// multi-row transactional insert per batch.
type PostgresWriter struct {
	db *sql.DB
}

func NewPostgresWriter(db *sql.DB) *PostgresWriter {
	return &PostgresWriter{db: db}
}

var auditSchema = []string{
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		user_id TEXT,
		username TEXT,
		user_roles JSONB,
		action_type TEXT NOT NULL,
		resource TEXT,
		outcome TEXT NOT NULL,
		ip_address TEXT,
		user_agent TEXT,
		request_id TEXT,
		request_data JSONB,
		response_status INTEGER,
		error_message TEXT,
		duration_ms BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_logs (timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_user_id ON audit_logs (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_username ON audit_logs (username)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_action_type ON audit_logs (action_type)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_outcome ON audit_logs (outcome)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_request_id ON audit_logs (request_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_user_time ON audit_logs (user_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_user_action ON audit_logs (user_id, action_type)`,
}

// EnsureSchema creates the audit table and its indexes if missing.
func (w *PostgresWriter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range auditSchema {
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("audit schema: %w", err)
		}
	}
	return nil
}

const auditColumns = 14

func (w *PostgresWriter) WriteBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO audit_logs
		(timestamp, user_id, username, user_roles, action_type, resource, outcome,
		 ip_address, user_agent, request_id, request_data, response_status,
		 error_message, duration_ms) VALUES `)

	args := make([]any, 0, len(entries)*auditColumns)
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for col := 0; col < auditColumns; col++ {
			if col > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "$%d", i*auditColumns+col+1)
		}
		sb.WriteByte(')')

		roles, err := json.Marshal(e.UserRoles)
		if err != nil {
			return fmt.Errorf("marshal user roles: %w", err)
		}
		var requestData []byte
		if e.RequestData != nil {
			requestData, err = json.Marshal(e.RequestData)
			if err != nil {
				return fmt.Errorf("marshal request data: %w", err)
			}
		}
		args = append(args,
			e.Timestamp, nullable(e.UserID), nullable(e.Username), roles,
			e.ActionType, nullable(e.Resource), e.Outcome,
			nullable(e.IPAddress), nullable(e.UserAgent), nullable(e.RequestID),
			requestData, e.ResponseStatus, nullable(e.ErrorMessage), e.DurationMS,
		)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		tx.Rollback()
		return fmt.Errorf("insert audit batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit batch: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
