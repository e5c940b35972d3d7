package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsegate/backend/internal/audit"
	"github.com/pulsegate/backend/internal/config"
	"github.com/pulsegate/backend/internal/handlers"
	"github.com/pulsegate/backend/internal/identity"
	"github.com/pulsegate/backend/internal/kvstore"
	"github.com/pulsegate/backend/internal/limits"
	"github.com/pulsegate/backend/internal/metrics"
	"github.com/pulsegate/backend/internal/middleware"
	"github.com/pulsegate/backend/internal/router"
	"github.com/pulsegate/backend/internal/ws"
)

const shutdownTimeout = 30 * time.Second

// Server owns every gateway component and the HTTP listener.
type Server struct {
	cfg *config.Config
	m   *metrics.Metrics
	reg *prometheus.Registry

	db        *sql.DB
	mainStore *kvstore.RedisStore
	authStore *kvstore.RedisStore

	registry *ws.Registry
	pipeline *audit.Pipeline
	httpSrv  *http.Server
}

// New performs startup validation and builds the full component graph. Any
// failure here must abort the process before a listener opens.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	m.SetBuildInfo(cfg.Version, string(cfg.Env))

	mainStore, err := kvstore.NewRedis(ctx, redisOptions(cfg, cfg.Redis.MainDB), m.ObserveRedisOp)
	if err != nil {
		return nil, err
	}
	authStore, err := kvstore.NewRedis(ctx, redisOptions(cfg, cfg.Redis.AuthDB), m.ObserveRedisOp)
	if err != nil {
		mainStore.Close()
		return nil, err
	}

	db, err := openDatabase(ctx, cfg.DB)
	if err != nil {
		mainStore.Close()
		authStore.Close()
		return nil, err
	}

	auditWriter := audit.NewPostgresWriter(db)
	if err := auditWriter.EnsureSchema(ctx); err != nil {
		mainStore.Close()
		authStore.Close()
		db.Close()
		return nil, err
	}
	pipeline := audit.NewPipeline(auditWriter, cfg.Audit, m)

	claimCache := identity.NewClaimCache(authStore)
	verifier := identity.NewVerifier(cfg.Keycloak, claimCache, func(result string) {
		m.TokenVerifications.WithLabelValues(result).Inc()
	})

	registry := ws.NewRegistry(m.BroadcastFailures.Inc)
	connLimiter := limits.NewConnLimiter(mainStore, cfg.WS.MaxConnectionsPerUser)
	msgLimiter := limits.NewRateLimiter(mainStore, config.FailOpen)
	httpLimiter := limits.NewRateLimiter(mainStore, cfg.RateLimit.FailMode)

	pkgRouter := router.New()
	handlers.RegisterAll(pkgRouter, handlers.Deps{Registry: registry})
	pkgRouter.Freeze()

	endpoint := ws.NewEndpoint(registry, connLimiter, msgLimiter, pkgRouter,
		pipeline, m, mainStore, cfg.WS)

	handler, err := buildHandler(cfg, m, verifier, httpLimiter, pipeline,
		db, mainStore, registry, endpoint, reg)
	if err != nil {
		mainStore.Close()
		authStore.Close()
		db.Close()
		return nil, err
	}

	return &Server{
		cfg:       cfg,
		m:         m,
		reg:       reg,
		db:        db,
		mainStore: mainStore,
		authStore: authStore,
		registry:  registry,
		pipeline:  pipeline,
		httpSrv: &http.Server{
			Addr:        ":" + cfg.Port,
			Handler:     handler,
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
	}, nil
}

func redisOptions(cfg *config.Config, db int) kvstore.RedisOptions {
	return kvstore.RedisOptions{
		Addr:           cfg.Redis.Addr(),
		DB:             db,
		MaxConnections: cfg.Redis.MaxConnections,
		SocketTimeout:  cfg.Redis.SocketTimeout,
		ConnectTimeout: cfg.Redis.ConnectTimeout,
		HealthCheck:    cfg.Redis.HealthCheck,
		RetryOnTimeout: cfg.Redis.RetryOnTimeout,
	}
}

func openDatabase(ctx context.Context, cfg config.DBConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns())
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxLifetime(cfg.PoolRecycle)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	slog.Info("database connected", "host", cfg.Host, "name", cfg.Name)
	return db, nil
}

// buildHandler assembles the route table and the admission chain around it.
func buildHandler(
	cfg *config.Config,
	m *metrics.Metrics,
	verifier *identity.Verifier,
	httpLimiter *limits.RateLimiter,
	pipeline *audit.Pipeline,
	db *sql.DB,
	store kvstore.Store,
	registry *ws.Registry,
	endpoint *ws.Endpoint,
	reg *prometheus.Registry,
) (http.Handler, error) {
	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler(db, store)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/system-info", systemInfoHandler(cfg, registry.Len)).Methods(http.MethodGet)
	r.HandleFunc("/docs", docsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/openapi.json", openAPIHandler()).Methods(http.MethodGet)
	r.Handle("/web", endpoint).Methods(http.MethodGet)

	if len(cfg.Admission.AllowedHosts) == 0 {
		slog.Warn("ALLOWED_HOSTS is empty, host check disabled")
	}
	if cfg.Env == config.EnvDev && cfg.DebugAuthBypass {
		slog.Warn("debug auth bypass enabled, requests without a token get an admin principal")
	}

	return middleware.Chain(r,
		middleware.TrustedHost(cfg.Admission.AllowedHosts),
		middleware.Correlation(),
		middleware.ClientIP(cfg.Admission.TrustedProxies),
		middleware.RequestLogger(),
		middleware.Auth(verifier, cfg.DebugAuthBypass),
		middleware.RateLimit(httpLimiter, cfg.RateLimit, m),
		middleware.BodyLimit(cfg.Admission.MaxRequestBodySize),
		middleware.Audit(pipeline),
		middleware.SecurityHeaders(),
		middleware.Observe(m),
	)
}

// Run starts the background workers and the listener, then drives the
// shutdown sequence when ctx is cancelled: stop accepting, close live
// connections, drain the audit queue, stop workers, close pools.
func (s *Server) Run(ctx context.Context) error {
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	workersDone := s.startWorkers(workerCtx)
	s.pipeline.Start(workerCtx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "port", s.cfg.Port, "env", string(s.cfg.Env))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		stopWorkers()
		return fmt.Errorf("listener failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("listener shutdown incomplete", "error", err)
	}
	s.registry.CloseAll(1001, "Server going away")
	drained := s.pipeline.Shutdown(shutdownCtx)
	slog.Info("audit queue drained", "written", drained)

	stopWorkers()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		slog.Warn("background workers did not stop in time")
	}

	s.mainStore.Close()
	s.authStore.Close()
	s.db.Close()
	slog.Info("gateway stopped")
	return nil
}
