// Package statuswriter persists auto-classified statuses off the read path.
package statuswriter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/brunao23/GerenciaBH-sub000/internal/classifier"
	"github.com/brunao23/GerenciaBH-sub000/internal/hermes"
	"github.com/brunao23/GerenciaBH-sub000/internal/tenant"
)

var (
	// ErrQueueFull is returned when the write queue has no room.
	ErrQueueFull = errors.New("status queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("status writer closed")
)

// Upserter is the persistence port.
type Upserter interface {
	UpsertAutoStatus(ctx context.Context, table string, u classifier.StatusUpdate) error
}

// Job is one pending status write.
type Job struct {
	Tenant string
	Table  string
	Update classifier.StatusUpdate
}

// WriteFunc performs one write.
type WriteFunc func(ctx context.Context, j Job) error

// WithRateLimit waits on lim before every write.
func WithRateLimit(lim *rate.Limiter, next WriteFunc) WriteFunc {
	return func(ctx context.Context, j Job) error {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		return next(ctx, j)
	}
}

// WithRetry retries failed writes with doubling delay, capped at 5s.
func WithRetry(attempts int, delay time.Duration, next WriteFunc) WriteFunc {
	return func(ctx context.Context, j Job) error {
		var err error
		d := delay
		for i := 0; i < attempts; i++ {
			if err = next(ctx, j); err == nil {
				return nil
			}
			if i == attempts-1 {
				break
			}
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
			if d < 5*time.Second {
				d *= 2
			}
		}
		return err
	}
}

// Options tune the writer.
type Options struct {
	QueueSize       int
	WritesPerSecond float64
	Attempts        int
	RetryDelay      time.Duration
	WriteTimeout    time.Duration
}

// Stats counts writer outcomes.
type Stats struct {
	Written  int `json:"written"`
	Failed   int `json:"failed"`
	Rejected int `json:"rejected"`
}

// Writer is an asynchronous, best-effort status writer. Updates are queued
// and written by a single worker; failures are logged and dropped.
type Writer struct {
	queue  chan Job
	write  WriteFunc
	pub    hermes.Publisher
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	started bool
	stats   Stats
	done    chan struct{}
}

// New creates a Writer over store. pub may be nil.
func New(store Upserter, pub hermes.Publisher, opts Options, logger *slog.Logger) *Writer {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 250 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if opts.WritesPerSecond > 0 {
		limit = rate.Limit(opts.WritesPerSecond)
	}

	base := func(ctx context.Context, j Job) error {
		return store.UpsertAutoStatus(ctx, j.Table, j.Update)
	}
	return &Writer{
		queue:  make(chan Job, opts.QueueSize),
		write:  WithRetry(opts.Attempts, opts.RetryDelay, WithRateLimit(rate.NewLimiter(limit, 1), base)),
		pub:    pub,
		opts:   opts,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// For binds the writer to a tenant.
func (w *Writer) For(tc tenant.Context) classifier.StatusWriter {
	return tenantWriter{w: w, tc: tc}
}

type tenantWriter struct {
	w  *Writer
	tc tenant.Context
}

func (t tenantWriter) WriteStatus(ctx context.Context, u classifier.StatusUpdate) error {
	return t.w.Enqueue(Job{Tenant: t.tc.ID, Table: t.tc.StatusTable, Update: u})
}

// Enqueue queues j without blocking.
func (w *Writer) Enqueue(j Job) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.queue <- j:
		return nil
	default:
		w.stats.Rejected++
		return ErrQueueFull
	}
}

// Start launches the worker. It stops when ctx is cancelled or after Close
// has drained the queue.
func (w *Writer) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	go func() {
		defer close(w.done)
		for {
			select {
			case j, ok := <-w.queue:
				if !ok {
					return
				}
				w.handle(ctx, j)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (w *Writer) handle(ctx context.Context, j Job) {
	wctx, cancel := context.WithTimeout(ctx, w.opts.WriteTimeout)
	defer cancel()

	if err := w.write(wctx, j); err != nil {
		w.count(func(s *Stats) { s.Failed++ })
		w.logger.Warn("status write failed", "tenant", j.Tenant, "lead_id", j.Update.LeadID, "status", j.Update.Status, "error", err)
		return
	}
	w.count(func(s *Stats) { s.Written++ })
	w.logger.Debug("status written", "tenant", j.Tenant, "lead_id", j.Update.LeadID, "status", j.Update.Status)

	if w.pub == nil {
		return
	}
	ev := hermes.StatusChangedEvent{
		EventID: uuid.New().String(),
		Tenant:  j.Tenant,
		LeadID:  j.Update.LeadID,
		Status:  string(j.Update.Status),
		At:      j.Update.LastAutoClassificationAt,
	}
	if err := w.pub.Publish(hermes.SubjectStatusChanged, ev); err != nil {
		w.logger.Warn("failed to publish status change", "tenant", j.Tenant, "lead_id", j.Update.LeadID, "error", err)
	}
}

func (w *Writer) count(f func(*Stats)) {
	w.mu.Lock()
	f(&w.stats)
	w.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Pending returns the number of queued writes.
func (w *Writer) Pending() int {
	return len(w.queue)
}

// Close stops accepting writes and waits for the worker to drain the queue.
// Without a running worker it returns immediately.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	started := w.started
	w.mu.Unlock()

	if started {
		<-w.done
	}
}
