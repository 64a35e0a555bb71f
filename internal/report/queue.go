package report

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultQueueSize = 1024

	closeTimeout = 5 * time.Second
)

// QueueStats is a snapshot of queue counters.
type QueueStats struct {
	Enqueued uint64
	Dropped  uint64
	Reported uint64
	Errors   uint64
}

// Queue decouples reporters from the completion path. Enqueue never
// blocks; messages are dropped when the queue is full.
type Queue struct {
	reporters []Reporter
	ch        chan *Message
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu     sync.RWMutex
	closed bool

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	reported atomic.Uint64
	errors   atomic.Uint64
}

// NewQueue starts a queue feeding reporters from one goroutine.
func NewQueue(size int, reporters ...Reporter) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &Queue{reporters: reporters, ch: make(chan *Message, size)}
	q.wg.Add(1)
	go q.run()
	return q
}

// Enqueue hands msg to the reporters. It reports false when the message
// was dropped.
func (q *Queue) Enqueue(msg *Message) bool {
	if len(q.reporters) == 0 {
		return true
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.ch <- msg:
		q.enqueued.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	ctx := context.Background()
	for msg := range q.ch {
		for _, r := range q.reporters {
			if err := r.Report(ctx, msg); err != nil {
				q.errors.Add(1)
				slog.Error("reporter failed", "reporter", r.Name(), "error", err)
				continue
			}
			q.reported.Add(1)
		}
	}
}

// Close drains queued messages and closes every reporter.
func (q *Queue) Close() error {
	var firstErr error
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
		q.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		for _, r := range q.reporters {
			if err := r.Close(ctx); err != nil {
				slog.Error("reporter close failed", "reporter", r.Name(), "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	})
	return firstErr
}

func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Enqueued: q.enqueued.Load(),
		Dropped:  q.dropped.Load(),
		Reported: q.reported.Load(),
		Errors:   q.errors.Load(),
	}
}
