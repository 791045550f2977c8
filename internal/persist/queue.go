// Package persist runs durable writes off the realtime path.
//
// Jobs run one at a time in submission order on a single worker, each with
// its own timeout. A failed job is logged and counted; nothing is retried and
// nothing is reported back to the submitter.
package persist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/metrics"
)

var (
	ErrQueueFull = errors.New("persist queue full")
	ErrClosed    = errors.New("persist queue closed")
)

const (
	DefaultSize    = 1024
	DefaultTimeout = 5 * time.Second
)

type Config struct {
	Size    int
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type job struct {
	name  string
	run   func(ctx context.Context) error
	attrs []any
	done  chan struct{}
}

type Queue struct {
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	jobs   chan job

	stopped chan struct{}
}

func New(cfg Config) *Queue {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	q := &Queue{
		timeout: cfg.Timeout,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		jobs:    make(chan job, cfg.Size),
		stopped: make(chan struct{}),
	}
	go q.worker()
	return q
}

// Submit enqueues fn without blocking. attrs are slog key/value pairs added
// to the failure log line.
func (q *Queue) Submit(name string, fn func(ctx context.Context) error, attrs ...any) error {
	return q.enqueue(job{name: name, run: fn, attrs: attrs})
}

func (q *Queue) enqueue(j job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- j:
		return nil
	default:
		q.metrics.Inc(metrics.PersistQueueDropped)
		q.log.Warn("persist queue full; dropping write", append([]any{"job", j.name}, j.attrs...)...)
		return ErrQueueFull
	}
}

// Flush waits until every job submitted before the call has finished.
func (q *Queue) Flush(ctx context.Context) error {
	done := make(chan struct{})
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrClosed
	}
	select {
	case q.jobs <- job{name: "flush", done: done}:
	case <-ctx.Done():
		q.mu.RUnlock()
		return ctx.Err()
	}
	q.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	select {
	case <-q.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker() {
	defer close(q.stopped)
	for j := range q.jobs {
		if j.done != nil {
			close(j.done)
			continue
		}
		q.runJob(j)
	}
}

func (q *Queue) runJob(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	defer func() {
		if v := recover(); v != nil {
			q.metrics.Inc(metrics.PersistenceFailures)
			q.log.Error("persist job panicked", append([]any{"job", j.name, "panic", v}, j.attrs...)...)
		}
	}()

	if err := j.run(ctx); err != nil {
		q.metrics.Inc(metrics.PersistenceFailures)
		q.log.Warn("persist job failed", append([]any{"job", j.name, "err", err}, j.attrs...)...)
	}
}
