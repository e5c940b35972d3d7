package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsegate/backend/internal/audit"
	"github.com/pulsegate/backend/internal/config"
	"github.com/pulsegate/backend/internal/identity"
	"github.com/pulsegate/backend/internal/kvstore"
	"github.com/pulsegate/backend/internal/limits"
	"github.com/pulsegate/backend/internal/logging"
	"github.com/pulsegate/backend/internal/metrics"
	"github.com/pulsegate/backend/internal/router"
	"github.com/pulsegate/backend/internal/wire"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512 * 1024

	// sessionKeyBuffer keeps the session key alive slightly past token expiry.
	sessionKeyBuffer = 60 * time.Second
)

// Host admission runs in the middleware chain; the upgrader itself accepts
// any origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Endpoint runs the gateway connection lifecycle: admission, the dispatch
// loop, and cleanup.
type Endpoint struct {
	registry    *Registry
	connLimiter *limits.ConnLimiter
	msgLimiter  *limits.RateLimiter
	router      *router.Router
	pipeline    *audit.Pipeline
	m           *metrics.Metrics
	store       kvstore.Store
	cfg         config.WSConfig
}

func NewEndpoint(
	registry *Registry,
	connLimiter *limits.ConnLimiter,
	msgLimiter *limits.RateLimiter,
	r *router.Router,
	pipeline *audit.Pipeline,
	m *metrics.Metrics,
	store kvstore.Store,
	cfg config.WSConfig,
) *Endpoint {
	return &Endpoint{
		registry:    registry,
		connLimiter: connLimiter,
		msgLimiter:  msgLimiter,
		router:      r,
		pipeline:    pipeline,
		m:           m,
		store:       store,
		cfg:         cfg,
	}
}

func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	codec, coerced := wire.Negotiate(r.URL.Query().Get("format"))
	if coerced {
		slog.WarnContext(r.Context(), "unknown wire format, using json",
			"format", r.URL.Query().Get("format"))
	}

	principal := identity.PrincipalFrom(r.Context())
	correlationID := logging.CorrelationID(r.Context())

	header := http.Header{}
	if correlationID != "" {
		header.Set("X-Correlation-ID", correlationID)
	}
	socket, err := upgrader.Upgrade(w, r, header)
	if err != nil {
		slog.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	conn := NewConn(socket, principal, codec, correlationID)

	if principal == nil {
		e.m.RecordRejection("auth")
		conn.Close(websocket.ClosePolicyViolation, "Authentication required")
		return
	}
	if !e.connLimiter.TryAdmit(r.Context(), principal.Username, conn.ID.String()) {
		e.m.RecordRejection("limit")
		conn.Close(websocket.ClosePolicyViolation, "Maximum concurrent connections exceeded")
		return
	}

	e.open(r, conn)
}

// open transitions an admitted connection to OPEN and runs its dispatch loop
// until disconnect.
func (e *Endpoint) open(r *http.Request, conn *Conn) {
	ctx := r.Context()
	username := conn.Principal.Username

	e.refreshSessionKey(ctx, conn)
	e.registry.Add(conn)
	e.m.WSConnectionsTotal.Inc()
	e.m.WSActiveConnections.Inc()
	slog.DebugContext(ctx, "websocket open",
		"conn_id", conn.ID, "user", username, "format", conn.Codec.Format())

	defer func() {
		e.connLimiter.Release(context.Background(), username, conn.ID.String())
		e.registry.Remove(conn)
		e.m.WSActiveConnections.Dec()
		conn.Close(websocket.CloseNormalClosure, "")
		slog.DebugContext(ctx, "websocket closed", "conn_id", conn.ID, "user", username)
	}()

	quit := make(chan struct{})
	defer close(quit)
	go e.pingLoop(conn, quit)

	conn.socket.SetReadLimit(maxMessageSize)
	conn.socket.SetReadDeadline(time.Now().Add(pongWait))
	conn.socket.SetPongHandler(func(string) error {
		conn.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	auditMeta := auditContext{
		ip:        r.RemoteAddr,
		userAgent: r.UserAgent(),
	}
	if ip := logging.ClientIPFrom(ctx); ip != "" {
		auditMeta.ip = ip
	}

	e.readLoop(ctx, conn, auditMeta)
}

func (e *Endpoint) pingLoop(conn *Conn, quit <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		case <-quit:
			return
		}
	}
}

type auditContext struct {
	ip        string
	userAgent string
}

// readLoop processes frames strictly in arrival order. Decode errors,
// message-rate violations, and handler faults terminate the connection.
func (e *Endpoint) readLoop(ctx context.Context, conn *Conn, meta auditContext) {
	key := kvstore.RateLimitKey("ws_msg:user", conn.Principal.Username)

	for {
		_, frame, err := conn.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.DebugContext(ctx, "websocket read error", "conn_id", conn.ID, "error", err)
			}
			return
		}
		start := time.Now()

		allowed, _ := e.msgLimiter.Check(ctx, key, e.cfg.MessageRateLimit, time.Minute, 0)
		if !allowed {
			e.m.RecordRateLimitHit("websocket")
			conn.Close(websocket.ClosePolicyViolation, "Message rate limit exceeded")
			return
		}

		req, err := conn.Codec.Decode(frame)
		if err != nil {
			e.record(conn, meta, audit.Entry{
				ActionType:   "WS:INVALID_REQUEST",
				Outcome:      audit.OutcomeError,
				ErrorMessage: err.Error(),
				DurationMS:   time.Since(start).Milliseconds(),
			})
			conn.Close(websocket.CloseUnsupportedData, "Frame decode failed")
			return
		}

		resp, err := e.router.Dispatch(ctx, conn.Principal, req)
		if err != nil {
			slog.ErrorContext(ctx, "handler failed",
				"conn_id", conn.ID, "pkg_id", req.PkgID, "error", err)
			e.m.WSAppErrorsTotal.Inc()
			e.record(conn, meta, audit.Entry{
				ActionType:   "WS:ERROR",
				Resource:     fmt.Sprintf("pkg:%d", req.PkgID),
				Outcome:      audit.OutcomeError,
				ErrorMessage: err.Error(),
				DurationMS:   time.Since(start).Milliseconds(),
			})
			conn.Close(websocket.CloseInternalServerErr, "Internal server error")
			return
		}

		if err := conn.Send(resp); err != nil {
			slog.WarnContext(ctx, "response send failed", "conn_id", conn.ID, "error", err)
			return
		}

		e.record(conn, meta, audit.Entry{
			ActionType:     fmt.Sprintf("WS:%d", req.PkgID),
			Resource:       "/web",
			Outcome:        outcomeFor(resp.StatusCode),
			RequestData:    req.Data,
			ResponseStatus: int(resp.StatusCode),
			DurationMS:     time.Since(start).Milliseconds(),
		})
	}
}

func (e *Endpoint) record(conn *Conn, meta auditContext, entry audit.Entry) {
	if e.pipeline == nil {
		return
	}
	entry.UserID = conn.Principal.UserID
	entry.Username = conn.Principal.Username
	entry.UserRoles = conn.Principal.Roles
	entry.IPAddress = meta.ip
	entry.UserAgent = meta.userAgent
	entry.RequestID = conn.CorrelationID
	e.pipeline.Record(entry)
}

// refreshSessionKey marks the user's session in the shared store for the
// token lifetime plus a small buffer.
func (e *Endpoint) refreshSessionKey(ctx context.Context, conn *Conn) {
	ttl := time.Until(conn.Principal.Expiry) + sessionKeyBuffer
	if ttl < sessionKeyBuffer {
		ttl = sessionKeyBuffer
	}
	key := kvstore.SessionKey(conn.Principal.Username)
	if err := e.store.Set(ctx, key, []byte("1"), ttl); err != nil {
		slog.DebugContext(ctx, "session key refresh failed", "user", conn.Principal.Username, "error", err)
	}
}

func outcomeFor(status wire.StatusCode) string {
	switch status {
	case wire.StatusOK:
		return audit.OutcomeSuccess
	case wire.StatusPermissionDenied:
		return audit.OutcomePermissionDenied
	default:
		return audit.OutcomeError
	}
}
