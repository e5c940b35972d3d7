// Package apperr defines the gateway's error taxonomy. Every error that can
// reach a client carries a stable machine code, a human message, and optional
// details, and maps to both an HTTP status and a wire status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/pulsegate/backend/internal/wire"
)

// Kind classifies an error for status mapping.
type Kind int

const (
	KindValidation Kind = iota
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindRateLimit
	KindPayloadTooLarge
	KindDatabase
	KindCache
	KindInternal
)

// Stable error codes surfaced in envelopes.
const (
	CodeValidation     = "validation_error"
	CodeNotFound       = "not_found"
	CodePermission     = "permission_denied"
	CodeAuthentication = "authentication_failed"
	CodeDatabase       = "database_error"
	CodeRedis          = "redis_error"
	CodeRateLimit      = "rate_limit_exceeded"
	CodeConflict       = "conflict"
	CodeInternal       = "internal_error"
)

// Error is the uniform error envelope shared by the HTTP and WebSocket
// surfaces. HTTP wraps it as {"error": {...}}, the WS router embeds it in the
// response data field.
type Error struct {
	Kind    Kind           `json:"-"`
	Code    string         `json:"code"`
	Msg     string         `json:"msg"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// HTTPStatus maps the error kind to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// WireStatus maps the error kind to a WebSocket response status code.
func (e *Error) WireStatus() wire.StatusCode {
	switch e.Kind {
	case KindValidation, KindConflict:
		return wire.StatusInvalidData
	case KindAuthentication, KindAuthorization:
		return wire.StatusPermissionDenied
	default:
		return wire.StatusError
	}
}

// New builds an Error with the canonical code for the kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Code: codeFor(kind), Msg: msg}
}

// Newf is New with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// WithDetails attaches a details map and returns the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Envelope renders the error as the {code, msg, details} map embedded in a
// WebSocket response's data field.
func (e *Error) Envelope() map[string]any {
	env := map[string]any{"code": e.Code, "msg": e.Msg}
	if len(e.Details) > 0 {
		env["details"] = e.Details
	}
	return env
}

func codeFor(kind Kind) string {
	switch kind {
	case KindValidation:
		return CodeValidation
	case KindAuthentication:
		return CodeAuthentication
	case KindAuthorization:
		return CodePermission
	case KindNotFound:
		return CodeNotFound
	case KindConflict:
		return CodeConflict
	case KindRateLimit:
		return CodeRateLimit
	case KindDatabase:
		return CodeDatabase
	case KindCache:
		return CodeRedis
	default:
		return CodeInternal
	}
}

// From extracts an *Error from err, or wraps err as an internal error.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindInternal, Code: CodeInternal, Msg: err.Error()}
}
