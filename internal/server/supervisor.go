package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pulsegate/backend/internal/kvstore"
)

const (
	sessionSyncInterval = 60 * time.Second
	poolMetricsInterval = 15 * time.Second
	sessionKeyBuffer    = 60 * time.Second
)

// startWorkers launches the session sync and pool metrics loops. The audit
// worker is started separately because its drain is part of the shutdown
// sequence. The returned channel closes when every worker has stopped.
func (s *Server) startWorkers(ctx context.Context) <-chan struct{} {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.sessionSyncLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.poolMetricsLoop(ctx)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// sessionSyncLoop refreshes the session key TTL for every live connection so
// sessions stay visible in the store for the token lifetime plus a buffer.
func (s *Server) sessionSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(sessionSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, conn := range s.registry.Sessions() {
				ttl := time.Until(conn.Principal.Expiry) + sessionKeyBuffer
				if ttl <= 0 {
					continue
				}
				key := kvstore.SessionKey(conn.Principal.Username)
				if err := s.mainStore.Expire(ctx, key, ttl); err != nil {
					slog.Debug("session key refresh failed",
						"user", conn.Principal.Username, "error", err)
				}
			}
		}
	}
}

// poolMetricsLoop records store and database pool gauges.
func (s *Server) poolMetricsLoop(ctx context.Context) {
	ticker := time.NewTicker(poolMetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			redisStats := s.mainStore.PoolStats()
			s.m.RedisPoolConns.WithLabelValues("total").Set(float64(redisStats.TotalConns))
			s.m.RedisPoolConns.WithLabelValues("idle").Set(float64(redisStats.IdleConns))

			dbStats := s.db.Stats()
			s.m.DBPoolConns.WithLabelValues("open").Set(float64(dbStats.OpenConnections))
			s.m.DBPoolConns.WithLabelValues("idle").Set(float64(dbStats.Idle))
			s.m.DBPoolConns.WithLabelValues("in_use").Set(float64(dbStats.InUse))
		}
	}
}
