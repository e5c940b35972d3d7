package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegate/backend/internal/config"
)

// captureWriter records every batch it receives.
type captureWriter struct {
	mu      sync.Mutex
	batches [][]Entry
	err     error
	block   chan struct{} // when set, WriteBatch waits on it
}

func (w *captureWriter) WriteBatch(ctx context.Context, entries []Entry) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	batch := make([]Entry, len(entries))
	copy(batch, entries)
	w.batches = append(w.batches, batch)
	return nil
}

func (w *captureWriter) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func testAuditConfig() config.AuditConfig {
	return config.AuditConfig{
		Enabled:      true,
		QueueMaxSize: 100,
		BatchSize:    10,
		BatchTimeout: 20 * time.Millisecond,
		QueueTimeout: 20 * time.Millisecond,
	}
}

func TestPipelineShutdownDrainsAllEntries(t *testing.T) {
	writer := &captureWriter{}
	p := NewPipeline(writer, testAuditConfig(), nil)
	p.Start(context.Background())

	const n = 37
	for i := 0; i < n; i++ {
		p.Record(Entry{ActionType: "GET", Resource: "/health", Outcome: OutcomeSuccess})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	assert.Equal(t, n, writer.total(), "every enqueued entry is written before shutdown completes")
}

func TestPipelineSanitizesBeforeQueueing(t *testing.T) {
	writer := &captureWriter{}
	p := NewPipeline(writer, testAuditConfig(), nil)
	p.Start(context.Background())

	p.Record(Entry{
		ActionType:  "POST",
		Resource:    "/api/login",
		Outcome:     OutcomeSuccess,
		RequestData: map[string]any{"username": "u", "password": "secret"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)

	require.Equal(t, 1, writer.total())
	got := writer.batches[0][0]
	assert.Equal(t, "u", got.RequestData["username"])
	assert.Equal(t, Redacted, got.RequestData["password"])
	assert.False(t, got.Timestamp.IsZero(), "timestamp defaults when unset")
}

func TestPipelineDropsWhenQueueStaysFull(t *testing.T) {
	writer := &captureWriter{block: make(chan struct{})}
	cfg := testAuditConfig()
	cfg.QueueMaxSize = 1
	cfg.QueueTimeout = 10 * time.Millisecond
	p := NewPipeline(writer, cfg, nil)
	p.Start(context.Background())

	// First entry is taken by the (blocked) worker, second fills the queue,
	// third cannot be queued within the bounded wait.
	p.Record(Entry{ActionType: "GET", Outcome: OutcomeSuccess})
	p.Record(Entry{ActionType: "GET", Outcome: OutcomeSuccess})
	p.Record(Entry{ActionType: "GET", Outcome: OutcomeSuccess})

	assert.Eventually(t, func() bool { return p.dropped.Load() >= 1 },
		time.Second, 5*time.Millisecond)

	close(writer.block)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)
}

func TestWorkerCountsFailedBatches(t *testing.T) {
	queue := NewQueue(10, 10*time.Millisecond)
	writer := &captureWriter{err: errors.New("db down")}

	var failed int
	worker := NewWorker(queue, writer, 10, 10*time.Millisecond, nil, func(n int) { failed += n })

	require.True(t, queue.Enqueue(Entry{ActionType: "GET"}))
	require.True(t, queue.Enqueue(Entry{ActionType: "GET"}))
	queue.Close()

	written := worker.Run(context.Background())
	assert.Zero(t, written)
	assert.Equal(t, 2, failed, "lost entries are counted, never silent")
}

func TestQueueRejectsAfterClose(t *testing.T) {
	queue := NewQueue(10, 10*time.Millisecond)
	queue.Close()
	assert.False(t, queue.Enqueue(Entry{ActionType: "GET"}))
}

func TestWorkerBatchesBySize(t *testing.T) {
	queue := NewQueue(100, 10*time.Millisecond)
	writer := &captureWriter{}
	worker := NewWorker(queue, writer, 5, time.Second, nil, nil)

	for i := 0; i < 12; i++ {
		require.True(t, queue.Enqueue(Entry{ActionType: "GET"}))
	}
	queue.Close()
	written := worker.Run(context.Background())

	assert.Equal(t, 12, written)
	writer.mu.Lock()
	defer writer.mu.Unlock()
	require.Len(t, writer.batches, 3)
	assert.Len(t, writer.batches[0], 5)
	assert.Len(t, writer.batches[1], 5)
	assert.Len(t, writer.batches[2], 2)
}
