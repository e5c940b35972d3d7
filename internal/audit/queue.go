package audit

import (
	"sync"
	"time"
)

// Queue is the bounded multi-producer single-consumer buffer between request
// paths and the batch writer. Enqueue never blocks longer than the configured
// wait; entries that cannot be queued in time are dropped and counted by the
// caller.
type Queue struct {
	ch      chan Entry
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func NewQueue(capacity int, enqueueTimeout time.Duration) *Queue {
	return &Queue{
		ch:      make(chan Entry, capacity),
		timeout: enqueueTimeout,
	}
}

// Enqueue offers the entry, waiting up to the configured timeout when the
// queue is full. False means the entry was not accepted.
func (q *Queue) Enqueue(e Entry) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}

	select {
	case q.ch <- e:
		return true
	default:
	}

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()
	select {
	case q.ch <- e:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting entries. The consumer drains whatever is already
// queued; in-flight enqueues finish first.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}

// Len is the current queue depth.
func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) entries() <-chan Entry { return q.ch }
