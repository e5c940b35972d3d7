package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pulsegate/backend/internal/config"
	"github.com/pulsegate/backend/internal/metrics"
)

// Pipeline wires the queue and worker together behind a single Record entry
// point. Every recorded entry is either persisted or counted as dropped or
// errored; nothing is silently lost.
type Pipeline struct {
	queue   *Queue
	worker  *Worker
	enabled bool
	m       *metrics.Metrics

	written atomic.Int64
	dropped atomic.Int64
	done    chan struct{}
}

func NewPipeline(writer Writer, cfg config.AuditConfig, m *metrics.Metrics) *Pipeline {
	p := &Pipeline{
		queue:   NewQueue(cfg.QueueMaxSize, cfg.QueueTimeout),
		enabled: cfg.Enabled,
		m:       m,
		done:    make(chan struct{}),
	}
	p.worker = NewWorker(p.queue, writer, cfg.BatchSize, cfg.BatchTimeout,
		func(n int) {
			p.written.Add(int64(n))
			if m != nil {
				m.AuditWritten.Add(float64(n))
				m.AuditQueueSize.Set(float64(p.queue.Len()))
			}
		},
		func(n int) {
			if m != nil {
				m.AuditErrors.Add(float64(n))
			}
		},
	)
	return p
}

// Start launches the batch writer.
func (p *Pipeline) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		p.worker.Run(ctx)
	}()
}

// Record sanitizes and enqueues one entry. A full queue past the bounded
// wait drops the entry and increments the drop counter.
func (p *Pipeline) Record(e Entry) {
	if !p.enabled {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.RequestData = Sanitize(e.RequestData)

	if !p.queue.Enqueue(e) {
		p.dropped.Add(1)
		if p.m != nil {
			p.m.AuditDropped.Inc()
		}
		slog.Warn("audit entry dropped, queue full",
			"action", e.ActionType, "user", e.Username)
		return
	}
	if p.m != nil {
		p.m.AuditQueueSize.Set(float64(p.queue.Len()))
	}
}

// Shutdown stops intake, drains the queue through the worker, and reports
// how many entries were written during the drain. It returns early if ctx
// expires first.
func (p *Pipeline) Shutdown(ctx context.Context) int {
	before := p.written.Load()
	p.queue.Close()
	select {
	case <-p.done:
	case <-ctx.Done():
		slog.Warn("audit drain timed out", "remaining", p.queue.Len())
	}
	drained := int(p.written.Load() - before)
	slog.Info("audit pipeline drained", "written", drained, "dropped_total", p.dropped.Load())
	return drained
}

// QueueDepth reports the current queue length.
func (p *Pipeline) QueueDepth() int { return p.queue.Len() }
