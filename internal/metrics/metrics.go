// Package metrics holds every Prometheus instrument the gateway records.
package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the gateway's instruments. Components receive the struct by
// injection; nothing registers metrics at import time.
type Metrics struct {
	// WebSocket lifecycle
	WSActiveConnections prometheus.Gauge
	WSConnectionsTotal  prometheus.Counter
	WSRejectedTotal     *prometheus.CounterVec // reason: auth, limit
	WSAppErrorsTotal    prometheus.Counter

	// Limits
	RateLimitHits *prometheus.CounterVec // limit_type: http, websocket

	// Audit pipeline
	AuditWritten   prometheus.Counter
	AuditDropped   prometheus.Counter
	AuditErrors    prometheus.Counter
	AuditQueueSize prometheus.Gauge

	// Stores
	RedisOperations *prometheus.CounterVec // op, status: ok, error
	RedisPoolConns  *prometheus.GaugeVec   // state: total, idle
	DBPoolConns     *prometheus.GaugeVec   // state: open, idle, in_use

	// Identity
	TokenVerifications *prometheus.CounterVec // result

	// HTTP admission
	HTTPRequestsTotal   *prometheus.CounterVec // method, path, status
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPInProgress      prometheus.Gauge

	// Broadcast fan-out
	BroadcastFailures prometheus.Counter

	buildInfo *prometheus.GaugeVec
}

// New creates and registers all gateway metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WSActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Currently open WebSocket connections",
		}),
		WSConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ws_connections_total",
			Help: "Total WebSocket connections admitted",
		}),
		WSRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_connections_rejected_total",
			Help: "WebSocket handshakes rejected before OPEN",
		}, []string{"reason"}),
		WSAppErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ws_app_errors_total",
			Help: "Handler errors that closed a connection",
		}),
		RateLimitHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_hits_total",
			Help: "Requests rejected by a rate limit",
		}, []string{"limit_type"}),
		AuditWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "audit_logs_written_total",
			Help: "Audit entries persisted to durable storage",
		}),
		AuditDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "audit_logs_dropped_total",
			Help: "Audit entries dropped because the queue stayed full",
		}),
		AuditErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "audit_log_errors_total",
			Help: "Audit entries lost to persistence errors",
		}),
		AuditQueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "audit_queue_size",
			Help: "Audit entries currently queued",
		}),
		RedisOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Key-value store operations by outcome",
		}, []string{"op", "status"}),
		RedisPoolConns: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "redis_pool_connections",
			Help: "Key-value store pool connections by state",
		}, []string{"state"}),
		DBPoolConns: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "db_pool_connections",
			Help: "Relational store pool connections by state",
		}, []string{"state"}),
		TokenVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_token_verifications_total",
			Help: "Bearer token verification outcomes",
		}, []string{"result"}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, path, and status",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_progress",
			Help: "HTTP requests currently being served",
		}),
		BroadcastFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ws_broadcast_failures_total",
			Help: "Per-connection broadcast sends that failed or timed out",
		}),
		buildInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_build_info",
			Help: "Constant gauge labeled with build and environment metadata",
		}, []string{"version", "goversion", "environment"}),
	}
}

// SetBuildInfo registers the process-wide constant labels.
func (m *Metrics) SetBuildInfo(version, environment string) {
	m.buildInfo.WithLabelValues(version, runtime.Version(), environment).Set(1)
}

// ObserveRedisOp is the observer hook handed to the Redis adapter.
func (m *Metrics) ObserveRedisOp(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RedisOperations.WithLabelValues(op, status).Inc()
}

// RecordRejection counts a pre-OPEN WebSocket rejection.
func (m *Metrics) RecordRejection(reason string) {
	m.WSRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordRateLimitHit counts a denied request for one limiter surface.
func (m *Metrics) RecordRateLimitHit(limitType string) {
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}
