// Package middleware implements the HTTP admission pipeline: an ordered
// chain of named middlewares with startup validation of ordering
// dependencies, shared by the REST endpoints and the WebSocket upgrade.
package middleware

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/pulsegate/backend/internal/apperr"
)

// Named middleware identifiers used for ordering dependencies.
const (
	NameTrustedHost   = "trusted_host"
	NameCorrelation   = "correlation"
	NameClientIP      = "client_ip"
	NameRequestLogger = "request_logger"
	NameAuth          = "auth"
	NameRateLimit     = "rate_limit"
	NameBodyLimit     = "body_limit"
	NameAudit         = "audit"
	NameSecurity      = "security_headers"
	NameMetrics       = "metrics"
)

// Middleware is one named layer of the admission pipeline. Requires lists
// middlewares that must execute earlier in the chain.
type Middleware struct {
	Name     string
	Requires []string
	Wrap     func(http.Handler) http.Handler
}

// Chain validates ordering dependencies and composes the middlewares around
// handler, first entry outermost. A violated dependency is a configuration
// error and refuses to build the chain.
func Chain(handler http.Handler, mws ...Middleware) (http.Handler, error) {
	seen := make(map[string]bool, len(mws))
	for _, mw := range mws {
		for _, dep := range mw.Requires {
			if !seen[dep] {
				return nil, fmt.Errorf("middleware %q requires %q earlier in the chain", mw.Name, dep)
			}
		}
		seen[mw.Name] = true
	}
	for i := len(mws) - 1; i >= 0; i-- {
		handler = mws[i].Wrap(handler)
	}
	return handler, nil
}

// statusWriter records the response status while passing Hijack through so
// the WebSocket upgrade keeps working behind the chain.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	// A hijacked connection means the handler owns the wire from here on.
	if w.status == 0 {
		w.status = http.StatusSwitchingProtocols
	}
	return hj.Hijack()
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// writeError renders the uniform HTTP error body {"error": {code, msg}}.
func writeError(w http.ResponseWriter, e *apperr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	json.NewEncoder(w).Encode(map[string]any{"error": e})
}
