package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/dukex/flowline/pkg/graph"
	"github.com/dukex/flowline/pkg/metrics"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/otelhelper"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/queue"
	"github.com/dukex/flowline/pkg/scheduler"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// errNodeFailed rolls back the writes of a failing node; the failure is then recorded in a fresh transaction.
var errNodeFailed = errors.New("node failed")

// Runner executes queued machine tasks.
type Runner struct {
	engine *Engine
	logger *slog.Logger
}

func NewRunner(engine *Engine) *Runner {
	return &Runner{engine: engine, logger: engine.logger.With("module", "task_runner")}
}

// run carries what one attempt decided about its task.
type run struct {
	outcome string
	failure error
}

// Execute runs the task of job under the workflow lock. A non-nil error is an infrastructure failure the caller
// should retry; node failures are recorded on the task instead.
func (r *Runner) Execute(ctx context.Context, job queue.Job) error {
	ctx, span := otelhelper.StartSpan(ctx, r.engine.tracer, "task.execute",
		attribute.String(otelhelper.TaskIDKey, job.TaskID),
		attribute.String(otelhelper.WorkflowIDKey, job.WorkflowID),
		attribute.Int(otelhelper.RetriesKey, job.Retries),
		attribute.Int(otelhelper.AttemptsKey, job.Attempts),
	)
	defer span.End()

	logger := r.logger.With("task_id", job.TaskID, "workflow_id", job.WorkflowID)

	workflowID, err := r.workflowID(ctx, job)
	if persistence.IsTaskNotFound(err) {
		logger.WarnContext(ctx, "Task no longer exists; skipping")
		metrics.TasksTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()

		return nil
	}

	if err != nil {
		return r.infraError(ctx, span, err)
	}

	attempt := &run{}

	acquired, err := r.engine.withLock(ctx, workflowID, func() error {
		return r.attempt(ctx, span, job, attempt, logger)
	})
	if err != nil {
		return r.infraError(ctx, span, err)
	}

	if !acquired {
		return r.retryLocked(ctx, job, workflowID, logger)
	}

	metrics.TasksTotal.WithLabelValues(attempt.outcome).Inc()
	span.SetAttributes(attribute.String(otelhelper.TaskOutcomeKey, attempt.outcome))

	if attempt.failure != nil {
		logger.WarnContext(ctx, "Task failed", "error", attempt.failure)
	}

	return nil
}

func (r *Runner) workflowID(ctx context.Context, job queue.Job) (string, error) {
	if job.WorkflowID != "" {
		return job.WorkflowID, nil
	}

	var workflowID string

	err := r.engine.store.Transaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		task, err := tx.Task(ctx, job.TaskID)
		if err != nil {
			return err
		}

		workflowID = task.WorkflowID

		return nil
	})

	return workflowID, err
}

func (r *Runner) infraError(ctx context.Context, span trace.Span, err error) error {
	otelhelper.SetError(span, err)
	metrics.TasksTotal.WithLabelValues(metrics.OutcomeError).Inc()

	return fmt.Errorf("failed to execute task: %w", err)
}

// retryLocked resubmits a job whose workflow is held by another worker.
func (r *Runner) retryLocked(ctx context.Context, job queue.Job, workflowID string, logger *slog.Logger) error {
	metrics.LockContentionTotal.Inc()
	metrics.RetriesTotal.WithLabelValues(metrics.ReasonLock).Inc()

	delay := scheduler.Backoff(job.Retries)
	logger.DebugContext(ctx, "Workflow locked; retrying task", "retries", job.Retries, "delay", delay)

	err := r.engine.scheduler.Submit(ctx, scheduler.Submission{
		TaskID:     job.TaskID,
		WorkflowID: workflowID,
		Delay:      delay,
		Retries:    job.Retries + 1,
	})
	if err != nil {
		return fmt.Errorf("failed to retry locked task %s: %w", job.TaskID, err)
	}

	return nil
}

func (r *Runner) attempt(ctx context.Context, span trace.Span, job queue.Job, attempt *run, logger *slog.Logger) error {
	err := r.engine.store.Transaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		return r.invokeTask(ctx, tx, job, attempt, logger)
	})
	if !errors.Is(err, errNodeFailed) {
		return err
	}

	otelhelper.SetError(span, attempt.failure)
	attempt.outcome = metrics.OutcomeFailed

	return r.engine.store.Transaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		task, err := tx.PendingTask(ctx, job.TaskID)
		if persistence.IsTaskNotFound(err) {
			return nil
		}

		if err != nil {
			return err
		}

		return r.engine.session(tx, r.engine.now(), logger).Fail(ctx, task, attempt.failure)
	})
}

func (r *Runner) invokeTask(ctx context.Context, tx persistence.Tx, job queue.Job, attempt *run, logger *slog.Logger) error {
	task, err := tx.PendingTask(ctx, job.TaskID)
	if persistence.IsTaskNotFound(err) {
		logger.InfoContext(ctx, "Task already completed; skipping")

		attempt.outcome = metrics.OutcomeSkipped

		return nil
	}

	if err != nil {
		return err
	}

	workflow, err := tx.Workflow(ctx, task.WorkflowID, true)
	if err != nil {
		return err
	}

	now := r.engine.now()
	session := r.engine.session(tx, now, logger)

	workflowType, node, err := r.engine.resolve(workflow.Type, task.Name)
	if err != nil {
		attempt.failure = err

		return errNodeFailed
	}

	ex := &graph.Execution{Workflow: workflow, Type: workflowType, Tx: tx, Now: now, Logger: logger}

	started := time.Now()
	result, err := invoke(ctx, node, ex, task)

	metrics.NodeDuration.WithLabelValues(workflow.Type, task.Name).Observe(time.Since(started).Seconds())

	if err != nil {
		if persistence.IsTransient(err) {
			return err
		}

		attempt.failure = err

		return errNodeFailed
	}

	if !result.Ready() {
		metrics.RetriesTotal.WithLabelValues(metrics.ReasonNotReady).Inc()
		session.Resubmit(task, job.Retries+1, scheduler.Backoff(job.Retries))

		attempt.outcome = metrics.OutcomeNotReady

		return nil
	}

	var nodes []graph.Node

	if names, explicit := result.NextNodes(); explicit {
		nodes, err = workflowType.ResolveNodes(names)
		if err != nil {
			attempt.failure = err

			return errNodeFailed
		}
	}

	// Successors are created while task is still scheduled, so a task creator that looks up live tasks of
	// the instance sees it.
	next, err := session.StartNextTasks(ctx, ex, task, nodes)
	if errors.Is(err, ErrNotStartNode) {
		attempt.failure = err

		return errNodeFailed
	}

	if err != nil {
		return err
	}

	err = session.Finish(ctx, task, nil)
	if err != nil {
		return err
	}

	attempt.outcome = metrics.OutcomeSucceeded

	logger.DebugContext(ctx, "Task succeeded", "node", task.Name, "next", len(next))

	return nil
}

// invoke calls the node body, turning a panic into a node failure.
func invoke(ctx context.Context, node graph.Node, ex *graph.Execution, task *models.Task) (result graph.Result, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = newPanicError(node.Name(), recovered, debug.Stack())
		}
	}()

	switch n := node.(type) {
	case graph.TaskInvoker:
		return n.InvokeTask(ctx, ex, task)
	case graph.Invoker:
		return n.Invoke(ctx, ex)
	default:
		return graph.Result{}, fmt.Errorf("%w: %q", ErrNotInvokable, node.Name())
	}
}

func workflowAttrs(workflowType, workflowID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(otelhelper.WorkflowTypeKey, workflowType)}
	if workflowID != "" {
		attrs = append(attrs, attribute.String(otelhelper.WorkflowIDKey, workflowID))
	}

	return attrs
}
