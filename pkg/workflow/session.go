package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowline/pkg/graph"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/scheduler"
)

// Session applies task lifecycle transitions inside one transaction. Submissions to the scheduler are deferred
// until the transaction commits.
type Session struct {
	tx        persistence.Tx
	scheduler scheduler.Scheduler
	now       time.Time
	logger    *slog.Logger
}

// NewSession binds the lifecycle operations to tx, stamping transitions with now.
func NewSession(tx persistence.Tx, sched scheduler.Scheduler, now time.Time, logger *slog.Logger) *Session {
	return &Session{tx: tx, scheduler: sched, now: now, logger: logger}
}

var (
	completionFields = []string{models.TaskFieldStatus, models.TaskFieldCompleted, models.TaskFieldCompletedBy}
	failureFields    = []string{
		models.TaskFieldStatus, models.TaskFieldCompleted, models.TaskFieldException, models.TaskFieldStacktrace,
	}
	resetFields = []string{
		models.TaskFieldStatus, models.TaskFieldCompleted, models.TaskFieldCompletedBy,
		models.TaskFieldException, models.TaskFieldStacktrace,
	}
)

// Finish marks task succeeded by user. Anonymous users are recorded as no user.
func (s *Session) Finish(ctx context.Context, task *models.Task, user *models.User) error {
	return s.complete(ctx, task, models.TaskStatusSucceeded, user)
}

// Cancel marks task canceled by user.
func (s *Session) Cancel(ctx context.Context, task *models.Task, user *models.User) error {
	return s.complete(ctx, task, models.TaskStatusCanceled, user)
}

func (s *Session) complete(ctx context.Context, task *models.Task, status models.TaskStatus, user *models.User) error {
	completed := s.now
	task.Status = status
	task.Completed = &completed
	task.CompletedBy = user.RecordedID()

	err := s.tx.SaveTask(ctx, task, completionFields)
	if err != nil {
		return fmt.Errorf("failed to mark task %s %s: %w", task.ID, status, err)
	}

	return nil
}

// Fail marks task failed, recording the exception summary and the stack trace of cause.
func (s *Session) Fail(ctx context.Context, task *models.Task, cause error) error {
	failure := NewNodeExecutionError(task.Name, cause)
	completed := s.now

	task.Status = models.TaskStatusFailed
	task.Completed = &completed
	task.Exception = failure.Exception
	task.Stacktrace = failure.Stacktrace

	err := s.tx.SaveTask(ctx, task, failureFields)
	if err != nil {
		return fmt.Errorf("failed to mark task %s failed: %w", task.ID, err)
	}

	return nil
}

// Enqueue schedules task again, clearing any previous outcome, and submits it once the transaction commits.
// A zero countdown and eta run it as soon as a worker is free.
func (s *Session) Enqueue(ctx context.Context, task *models.Task, countdown time.Duration, eta time.Time) error {
	err := s.Reopen(ctx, task)
	if err != nil {
		return err
	}

	s.submitOnCommit(task, scheduler.Submission{Delay: countdown, At: eta})

	return nil
}

// Reopen puts task back to scheduled without submitting it. Human tasks wait for a new completion.
func (s *Session) Reopen(ctx context.Context, task *models.Task) error {
	task.Status = models.TaskStatusScheduled
	task.Completed = nil
	task.CompletedBy = nil
	task.Exception = ""
	task.Stacktrace = ""

	err := s.tx.SaveTask(ctx, task, resetFields)
	if err != nil {
		return fmt.Errorf("failed to reopen task %s: %w", task.ID, err)
	}

	return nil
}

// Resubmit submits task again after delay without touching its row.
func (s *Session) Resubmit(task *models.Task, retries int, delay time.Duration) {
	s.submitOnCommit(task, scheduler.Submission{Delay: delay, Retries: retries})
}

func (s *Session) submitOnCommit(task *models.Task, submission scheduler.Submission) {
	submission.TaskID = task.ID
	submission.WorkflowID = task.WorkflowID

	s.tx.OnCommit(func(ctx context.Context) {
		err := s.scheduler.Submit(ctx, submission)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to submit task; rerun it to recover",
				"task_id", submission.TaskID,
				"workflow_id", submission.WorkflowID,
				"error", err,
			)
		}
	})
}

// StartNextTasks creates or reuses a task for each node and links task as its parent. With nil nodes the
// outgoing edges of task's node are followed. Invokable tasks are submitted after commit.
func (s *Session) StartNextTasks(ctx context.Context, ex *graph.Execution, task *models.Task, nodes []graph.Node) ([]*models.Task, error) {
	if nodes == nil {
		nodes = ex.Type.NextNodes(task.Name)
	}

	started := make([]*models.Task, 0, len(nodes))

	for _, node := range nodes {
		next, err := s.createTask(ctx, ex, task, node)
		if err != nil {
			return nil, err
		}

		err = s.tx.AddParents(ctx, next.ID, task.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to link task %s to %s: %w", next.ID, task.ID, err)
		}

		if assigner, ok := node.(graph.Assigner); ok {
			users, err := assigner.Assignees(ctx, ex, next)
			if err != nil {
				return nil, fmt.Errorf("failed to compute assignees of %s: %w", node.Name(), err)
			}

			if len(users) > 0 {
				err = s.tx.SetAssignees(ctx, next.ID, users...)
				if err != nil {
					return nil, fmt.Errorf("failed to assign task %s: %w", next.ID, err)
				}
			}
		}

		if graph.Invokable(node) {
			err = s.Enqueue(ctx, next, 0, time.Time{})
			if err != nil {
				return nil, err
			}
		}

		started = append(started, next)
	}

	return started, nil
}

func (s *Session) createTask(ctx context.Context, ex *graph.Execution, prev *models.Task, node graph.Node) (*models.Task, error) {
	if _, isStart := node.(*graph.StartNode); isStart {
		return nil, fmt.Errorf("%w: start node %q can only begin a workflow", ErrNotStartNode, node.Name())
	}

	if creator, ok := node.(graph.TaskCreator); ok {
		return creator.CreateTask(ctx, ex, prev)
	}

	next := models.NewTask(ex.Workflow.ID, node.Name(), node.Type())

	err := s.tx.CreateTask(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("failed to create task %s: %w", node.Name(), err)
	}

	return next, nil
}

// CancelWorkflow cancels every scheduled task of the workflow instance and returns how many were canceled.
func (s *Session) CancelWorkflow(ctx context.Context, workflowID string, user *models.User) (int, error) {
	count, err := s.tx.CancelTasks(ctx, persistence.ForWorkflow(workflowID).Scheduled(), user.RecordedID(), s.now)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel workflow %s: %w", workflowID, err)
	}

	return count, nil
}
