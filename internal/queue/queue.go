// Package queue provides a generic in-process job queue with typed handlers,
// bounded retries with exponential backoff, and hooks for persisting retry
// and terminal-failure state on the owning entity.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Payload identifies the owning entity a job operates on. Jobs are transient:
// the owning entity's persisted status, not queue membership, is the durable
// record of outstanding work.
type Payload struct {
	RunID string `json:"run_id,omitempty"`
	JobID string `json:"job_id,omitempty"`
}

// Job is one unit of queued work.
type Job struct {
	Type    string  `json:"type"`
	Payload Payload `json:"payload"`
	Attempt int     `json:"attempt"`
}

// Handler processes one job payload. A returned error triggers the retry
// policy; nil completes the job.
type Handler func(ctx context.Context, payload Payload) error

// RetryFunc is invoked before each backoff sleep, with the failing job, the
// error and the computed delay.
type RetryFunc func(job Job, err error, delay time.Duration)

// FailFunc is invoked once when a job exhausts its retries.
type FailFunc func(job Job, err error)

// Config controls worker count and the retry policy.
type Config struct {
	// Workers is the size of the worker pool. Default: 2.
	Workers int

	// MaxRetries is the number of retries after the first attempt. Zero
	// disables retries; a negative value falls back to the default of 3.
	MaxRetries int

	// BaseDelay is the backoff before the first retry; each subsequent retry
	// doubles it. Default: 2s.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Default: 30s.
	MaxDelay time.Duration

	// Buffer is the channel capacity. Default: 256.
	Buffer int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	return c
}

// Backoff computes the retry delay for a zero-based attempt counter:
// min(MaxDelay, BaseDelay * 2^attempt). No jitter; the schedule is part of
// the queue's contract and tests rely on it.
func (c Config) Backoff(attempt int) time.Duration {
	delay := c.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// Queue is a FIFO job queue consumed by a fixed pool of workers. Job types
// are registered with exactly one handler each before Start.
type Queue struct {
	cfg      Config
	jobs     chan Job
	onRetry  RetryFunc
	onFail   FailFunc
	mu       sync.RWMutex
	handlers map[string]Handler
	group    *errgroup.Group
	cancel   context.CancelFunc
}

// Option configures a Queue.
type Option func(*Queue)

// WithOnRetry sets the retry hook, used to persist "queued, last error" on
// the owning entity before the backoff sleep.
func WithOnRetry(fn RetryFunc) Option {
	return func(q *Queue) { q.onRetry = fn }
}

// WithOnFail sets the terminal-failure hook, used to persist "failed" with
// the error text on the owning entity.
func WithOnFail(fn FailFunc) Option {
	return func(q *Queue) { q.onFail = fn }
}

// New creates a stopped queue.
func New(cfg Config, opts ...Option) *Queue {
	cfg = cfg.withDefaults()
	q := &Queue{
		cfg:      cfg,
		jobs:     make(chan Job, cfg.Buffer),
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Register binds a job type to its handler. Registering a duplicate type is
// a programming error.
func (q *Queue) Register(jobType string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.handlers[jobType]; exists {
		return eris.Errorf("queue: handler already registered for job type %q", jobType)
	}
	q.handlers[jobType] = handler
	return nil
}

// Enqueue adds a job to the queue. It blocks only when the buffer is full,
// and returns the context error if ctx is done first.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload Payload) error {
	return q.enqueue(ctx, Job{Type: jobType, Payload: payload})
}

func (q *Queue) enqueue(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return eris.Wrapf(ctx.Err(), "queue: enqueue %s", job.Type)
	}
}

// Start launches the worker pool. Workers run until ctx is cancelled or Stop
// is called; a dequeued job always runs to completion, failure, or retry
// scheduling; there is no cancellation of in-flight work.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	group, gctx := errgroup.WithContext(ctx)
	q.group = group
	for i := 0; i < q.cfg.Workers; i++ {
		worker := i
		group.Go(func() error {
			q.workerLoop(gctx, worker)
			return nil
		})
	}

	zap.L().Info("queue: started",
		zap.Int("workers", q.cfg.Workers),
		zap.Int("max_retries", q.cfg.MaxRetries),
	)
}

// Stop signals workers to exit after their current job and waits for them.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	if q.group != nil {
		_ = q.group.Wait()
	}
	zap.L().Info("queue: stopped")
}

func (q *Queue) workerLoop(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.process(ctx, worker, job)
		}
	}
}

func (q *Queue) process(ctx context.Context, worker int, job Job) {
	err := q.dispatch(ctx, job)
	if err == nil {
		return
	}

	if job.Attempt < q.cfg.MaxRetries {
		delay := q.cfg.Backoff(job.Attempt)
		if q.onRetry != nil {
			q.onRetry(job, err, delay)
		}
		zap.L().Warn("queue: job failed, retrying",
			zap.String("type", job.Type),
			zap.Int("attempt", job.Attempt+1),
			zap.Int("max_retries", q.cfg.MaxRetries),
			zap.Duration("delay", delay),
			zap.Int("worker", worker),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			// The owning entity is still marked queued; the startup scan
			// re-enqueues it on restart.
			return
		case <-timer.C:
		}
		retry := Job{Type: job.Type, Payload: job.Payload, Attempt: job.Attempt + 1}
		if enqErr := q.enqueue(ctx, retry); enqErr != nil {
			zap.L().Error("queue: re-enqueue failed", zap.String("type", job.Type), zap.Error(enqErr))
		}
		return
	}

	zap.L().Error("queue: job failed after retries",
		zap.String("type", job.Type),
		zap.Int("attempts", job.Attempt+1),
		zap.Error(err),
	)
	if q.onFail != nil {
		q.onFail(job, err)
	}
}

func (q *Queue) dispatch(ctx context.Context, job Job) error {
	q.mu.RLock()
	handler, ok := q.handlers[job.Type]
	q.mu.RUnlock()
	if !ok {
		return eris.Errorf("queue: no handler registered for job type %q", job.Type)
	}
	return handler(ctx, job.Payload)
}
