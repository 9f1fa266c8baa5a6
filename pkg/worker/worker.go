// Package worker runs queued tasks with a pool of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowline/pkg/metrics"
	"github.com/dukex/flowline/pkg/otelhelper"
	"github.com/dukex/flowline/pkg/queue"
	"github.com/dukex/flowline/pkg/scheduler"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	DefaultConcurrency  = 4
	DefaultPollInterval = 200 * time.Millisecond
	depthInterval       = 10 * time.Second
)

// Executor runs the task of one job. A returned error asks for a redelivery.
type Executor interface {
	Execute(ctx context.Context, job queue.Job) error
}

// Pool pulls due jobs from a queue and hands them to an executor.
type Pool struct {
	id           string
	queue        queue.Queue
	queueName    string
	executor     Executor
	logger       *slog.Logger
	concurrency  int
	pollInterval time.Duration
	maxAttempts  int
	tracer       trace.Tracer
	now          func() time.Time
}

type Option func(*Pool)

func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval paces the polls of idle workers.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithMaxAttempts bounds the redeliveries of a job whose execution keeps failing. Zero retries forever.
func WithMaxAttempts(n int) Option {
	return func(p *Pool) {
		p.maxAttempts = n
	}
}

// WithQueueName labels the queue depth metric.
func WithQueueName(name string) Option {
	return func(p *Pool) {
		p.queueName = name
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pool) {
		p.tracer = tracer
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

func NewPool(id string, q queue.Queue, executor Executor, logger *slog.Logger, opts ...Option) *Pool {
	pool := &Pool{
		id:           id,
		queue:        q,
		queueName:    queue.DefaultName,
		executor:     executor,
		logger:       logger.With("module", "worker_pool", "worker_id", id),
		concurrency:  DefaultConcurrency,
		pollInterval: DefaultPollInterval,
		tracer:       otelhelper.NoopTracer(),
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(pool)
	}

	return pool
}

// Run processes jobs until ctx is canceled, then waits for the running tasks to finish.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Starting worker pool", "concurrency", p.concurrency, "poll_interval", p.pollInterval)

	idle := rate.NewLimiter(rate.Every(p.pollInterval), 1)

	var wg sync.WaitGroup

	for slot := range p.concurrency {
		wg.Add(1)

		go func() {
			defer wg.Done()

			p.work(ctx, slot, idle)
		}()
	}

	wg.Add(1)

	go func() {
		defer wg.Done()

		p.reportDepth(ctx)
	}()

	wg.Wait()
	p.logger.InfoContext(ctx, "Worker pool stopped")

	return nil
}

func (p *Pool) work(ctx context.Context, slot int, idle *rate.Limiter) {
	logger := p.logger.With("slot", slot)

	for ctx.Err() == nil {
		processed, err := p.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			logger.ErrorContext(ctx, "Failed to process job", "error", err)
		}

		if processed {
			continue
		}

		if idle.Wait(ctx) != nil {
			return
		}
	}
}

// ProcessOne executes the next due job, if any, and reports whether one was taken.
func (p *Pool) ProcessOne(ctx context.Context) (bool, error) {
	delivery, err := p.queue.Dequeue(ctx)
	if errors.Is(err, queue.ErrEmpty) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to dequeue job: %w", err)
	}

	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()

	job := delivery.Job
	logger := p.logger.With("job_id", job.ID, "task_id", job.TaskID, "workflow_id", job.WorkflowID)

	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "job.process",
		attribute.String(otelhelper.WorkerIDKey, p.id),
		attribute.String(otelhelper.TaskIDKey, job.TaskID),
		attribute.Int(otelhelper.AttemptsKey, job.Attempts),
	)
	defer span.End()

	// Settling the delivery must survive shutdown, otherwise the job waits for its visibility timeout.
	settleCtx := context.WithoutCancel(ctx)

	execErr := p.executor.Execute(ctx, job)
	if execErr != nil {
		otelhelper.SetError(span, execErr)

		err = p.redeliver(settleCtx, job, execErr, logger)
		if err != nil {
			return true, err
		}
	}

	err = delivery.Ack(settleCtx)
	if err != nil {
		return true, fmt.Errorf("failed to ack job %s: %w", job.ID, err)
	}

	return true, nil
}

// redeliver enqueues a copy of a job whose execution failed, after a backoff.
func (p *Pool) redeliver(ctx context.Context, job queue.Job, cause error, logger *slog.Logger) error {
	attempts := job.Attempts + 1

	if p.maxAttempts > 0 && attempts >= p.maxAttempts {
		logger.ErrorContext(ctx, "Giving up on job; rerun the task to recover",
			"attempts", attempts,
			"error", cause,
		)

		return nil
	}

	metrics.RetriesTotal.WithLabelValues(metrics.ReasonTransient).Inc()

	delay := scheduler.Backoff(job.Attempts)
	logger.WarnContext(ctx, "Task execution failed; redelivering",
		"attempts", attempts,
		"delay", delay,
		"error", cause,
	)

	retry := job
	retry.ID = uuid.New().String()
	retry.Attempts = attempts
	retry.NotBefore = p.now().Add(delay)

	err := p.queue.Enqueue(ctx, retry)
	if err != nil {
		return fmt.Errorf("failed to redeliver job %s: %w", job.ID, err)
	}

	return nil
}

func (p *Pool) reportDepth(ctx context.Context) {
	ticker := time.NewTicker(depthInterval)
	defer ticker.Stop()

	for {
		depth, err := p.queue.Depth(ctx)
		if err == nil {
			metrics.QueueDepth.WithLabelValues(p.queueName).Set(float64(depth))
		} else if ctx.Err() == nil {
			p.logger.WarnContext(ctx, "Failed to read queue depth", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
