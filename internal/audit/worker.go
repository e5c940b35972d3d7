package audit

import (
	"context"
	"log/slog"
	"time"
)

// Writer persists one batch of entries transactionally.
type Writer interface {
	WriteBatch(ctx context.Context, entries []Entry) error
}

// errorBackoff is the pause after a failed batch write before the worker
// resumes consuming.
const errorBackoff = time.Second

// Worker is the single consumer of the audit queue. It accumulates entries
// into batches bounded by size and time, and persists each batch in one
// write. A persistence error loses that batch (counted), backs off, and the
// worker continues. Run returns once the queue is closed and drained.
type Worker struct {
	queue        *Queue
	writer       Writer
	batchSize    int
	batchTimeout time.Duration
	onWritten    func(n int)
	onError      func(n int)
}

func NewWorker(queue *Queue, writer Writer, batchSize int, batchTimeout time.Duration, onWritten, onError func(int)) *Worker {
	if onWritten == nil {
		onWritten = func(int) {}
	}
	if onError == nil {
		onError = func(int) {}
	}
	return &Worker{
		queue:        queue,
		writer:       writer,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		onWritten:    onWritten,
		onError:      onError,
	}
}

// Run consumes until the queue is closed and empty, then returns the total
// number of entries written. Closing the queue switches the worker into
// drain mode: remaining entries are flushed without waiting on the batch
// timeout.
func (w *Worker) Run(ctx context.Context) int {
	written := 0
	for {
		batch, open := w.nextBatch()
		if len(batch) > 0 {
			if err := w.writer.WriteBatch(ctx, batch); err != nil {
				slog.Error("audit batch write failed", "entries", len(batch), "error", err)
				w.onError(len(batch))
				if open {
					time.Sleep(errorBackoff)
				}
			} else {
				w.onWritten(len(batch))
				written += len(batch)
			}
		}
		if !open {
			return written
		}
	}
}

// nextBatch blocks for the first entry, then accumulates up to batchSize
// entries or until batchTimeout elapses. open=false signals the queue is
// closed and fully drained after this batch.
func (w *Worker) nextBatch() (batch []Entry, open bool) {
	first, ok := <-w.queue.entries()
	if !ok {
		return nil, false
	}
	batch = append(batch, first)

	timer := time.NewTimer(w.batchTimeout)
	defer timer.Stop()
	for len(batch) < w.batchSize {
		select {
		case e, ok := <-w.queue.entries():
			if !ok {
				return batch, false
			}
			batch = append(batch, e)
		case <-timer.C:
			return batch, true
		}
	}
	return batch, true
}
