// Package server wires the gateway together: stores, identity, limits,
// audit, the WebSocket endpoint, the HTTP surface, and the background
// supervisor.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/pulsegate/backend/internal/apperr"
	"github.com/pulsegate/backend/internal/config"
	"github.com/pulsegate/backend/internal/identity"
	"github.com/pulsegate/backend/internal/kvstore"
)

const healthCheckTimeout = 5 * time.Second

// Pinger is the slice of *sql.DB the health check needs.
type Pinger interface {
	PingContext(ctx context.Context) error
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeAppError(w http.ResponseWriter, e *apperr.Error) {
	writeJSON(w, e.HTTPStatus(), map[string]any{"error": e})
}

// healthHandler reports liveness of both stores. 200 when both respond, 503
// otherwise.
func healthHandler(db Pinger, store kvstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		dbStatus, redisStatus := "connected", "connected"
		healthy := true
		if err := db.PingContext(ctx); err != nil {
			dbStatus = "error"
			healthy = false
		}
		if err := store.Ping(ctx); err != nil {
			redisStatus = "error"
			healthy = false
		}

		status := http.StatusOK
		overall := "ok"
		if !healthy {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}
		writeJSON(w, status, map[string]string{
			"status":   overall,
			"database": dbStatus,
			"redis":    redisStatus,
		})
	}
}

// systemInfoHandler exposes process and pool configuration to admins.
func systemInfoHandler(cfg *config.Config, activeConns func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := identity.PrincipalFrom(r.Context())
		if p == nil {
			writeAppError(w, apperr.New(apperr.KindAuthentication, "Authentication required"))
			return
		}
		if !p.HasRole("admin") {
			writeAppError(w, apperr.New(apperr.KindAuthorization, "Admin role required"))
			return
		}

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		writeJSON(w, http.StatusOK, map[string]any{
			"version":     cfg.Version,
			"environment": string(cfg.Env),
			"go_version":  runtime.Version(),
			"cpu_count":   runtime.NumCPU(),
			"gomaxprocs":  runtime.GOMAXPROCS(0),
			"goroutines":  runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_bytes":       mem.Alloc,
				"sys_bytes":         mem.Sys,
				"heap_objects":      mem.HeapObjects,
				"gc_cycles":         mem.NumGC,
				"last_gc_pause_ns":  mem.PauseNs[(mem.NumGC+255)%256],
				"total_alloc_bytes": mem.TotalAlloc,
			},
			"pools": map[string]any{
				"db_max_open_conns":     cfg.DB.MaxOpenConns(),
				"redis_max_connections": cfg.Redis.MaxConnections,
			},
			"websocket": map[string]any{
				"active_connections":       activeConns(),
				"max_connections_per_user": cfg.WS.MaxConnectionsPerUser,
				"message_rate_limit":       cfg.WS.MessageRateLimit,
			},
		})
	}
}

func docsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(docsHTML))
	}
}

func openAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(openAPIDoc))
	}
}
