package workflow

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dukex/flowline/pkg/graph"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
)

// RerunReport counts what a rerun did with the selected tasks.
type RerunReport struct {
	Queued   int `json:"queued"`
	Reopened int `json:"reopened"`
	Skipped  int `json:"skipped"`
	Missing  int `json:"missing"`
}

// Rerun schedules the selected tasks again. Succeeded tasks are skipped. Human tasks are reopened for completion
// instead of being queued.
func (e *Engine) Rerun(ctx context.Context, taskIDs []string) (*RerunReport, error) {
	report := &RerunReport{}
	taskIDs = uniqueIDs(taskIDs)

	err := e.store.Transaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		tasks, err := tx.FindTasks(ctx, persistence.ForTasks(taskIDs...))
		if err != nil {
			return err
		}

		report.Missing = len(taskIDs) - len(tasks)
		session := e.session(tx, e.now(), e.logger)

		for _, task := range tasks {
			switch {
			case task.Status == models.TaskStatusSucceeded, task.Name == models.OverrideTaskName:
				report.Skipped++
			case task.Type == models.NodeTypeHuman:
				err = session.Reopen(ctx, task)
				report.Reopened++
			default:
				err = session.Enqueue(ctx, task, 0, time.Time{})
				report.Queued++
			}

			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rerun tasks: %w", err)
	}

	if report.Skipped > 0 {
		e.logger.WarnContext(ctx, "Skipped succeeded tasks; they cannot be rerun", "skipped", report.Skipped)
	}

	e.logger.InfoContext(ctx, "Rerun tasks", "queued", report.Queued, "reopened", report.Reopened)

	return report, nil
}

// CancelReport counts what a bulk cancel did with the selected tasks.
type CancelReport struct {
	Canceled int `json:"canceled"`
	Skipped  int `json:"skipped"`
}

// CancelTasks cancels the selected scheduled tasks. Tasks in any other status are skipped.
func (e *Engine) CancelTasks(ctx context.Context, taskIDs []string, user *models.User) (*CancelReport, error) {
	report := &CancelReport{}

	err := e.store.Transaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		var err error

		report.Skipped, err = tx.CountTasks(ctx, persistence.ForTasks(taskIDs...).NotScheduled())
		if err != nil {
			return err
		}

		report.Canceled, err = tx.CancelTasks(ctx, persistence.ForTasks(taskIDs...).Scheduled(), user.RecordedID(), e.now())

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel tasks: %w", err)
	}

	if report.Skipped > 0 {
		e.logger.WarnContext(ctx, "Skipped tasks that are not scheduled", "skipped", report.Skipped)
	}

	return report, nil
}

// Override moves a workflow instance to the given nodes by hand. Under the workflow lock it writes state,
// cancels the active tasks and records a finished override task, parent of the newly started tasks.
func (e *Engine) Override(
	ctx context.Context,
	workflowID string,
	next []string,
	state models.State,
	user *models.User,
) (*CompletionResult, error) {
	var result *CompletionResult

	acquired, err := e.withLock(ctx, workflowID, func() error {
		return e.store.Transaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
			var err error

			result, err = e.override(ctx, tx, workflowID, next, state, user)

			return err
		})
	})
	if err == nil && !acquired {
		err = fmt.Errorf("%w: workflow %s", ErrLockUnavailable, workflowID)
	}

	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Overrode workflow",
		"workflow_id", workflowID,
		"task_id", result.Task.ID,
		"next", next,
		"user_id", userID(user),
	)

	return result, nil
}

func (e *Engine) override(
	ctx context.Context,
	tx persistence.Tx,
	workflowID string,
	next []string,
	state models.State,
	user *models.User,
) (*CompletionResult, error) {
	workflow, err := tx.Workflow(ctx, workflowID, true)
	if err != nil {
		return nil, err
	}

	workflowType, err := e.registry.Type(workflow.Type)
	if err != nil {
		return nil, &LookupError{WorkflowType: workflow.Type, Err: err}
	}

	nodes, err := workflowType.ResolveNodes(next)
	if err != nil {
		return nil, err
	}

	fields := state.Keys()
	slices.Sort(fields)

	for _, key := range fields {
		workflow.State[key] = state[key]
	}

	err = tx.SaveWorkflow(ctx, workflow, fields)
	if err != nil {
		return nil, err
	}

	parents, err := tx.FindTasks(ctx, persistence.ForWorkflow(workflowID).Active())
	if err != nil {
		return nil, err
	}

	now := e.now()
	logger := e.logger.With("workflow_id", workflowID)
	session := e.session(tx, now, logger)

	for _, task := range parents {
		err = session.Cancel(ctx, task, user)
		if err != nil {
			return nil, err
		}
	}

	if len(parents) == 0 {
		all, err := tx.FindTasks(ctx, persistence.ForWorkflow(workflowID))
		if err != nil {
			return nil, err
		}

		if len(all) > 0 {
			parents = all[len(all)-1:]
		}
	}

	task := models.NewTask(workflowID, models.OverrideTaskName, models.NodeTypeHuman)

	err = tx.CreateTask(ctx, task)
	if err != nil {
		return nil, err
	}

	err = session.Finish(ctx, task, user)
	if err != nil {
		return nil, err
	}

	parentIDs := make([]string, 0, len(parents))
	for _, parent := range parents {
		parentIDs = append(parentIDs, parent.ID)
	}

	err = tx.SetParents(ctx, task.ID, parentIDs...)
	if err != nil {
		return nil, err
	}

	ex := &graph.Execution{Workflow: workflow, Type: workflowType, Tx: tx, Now: now, Logger: logger}

	started, err := session.StartNextTasks(ctx, ex, task, nodes)
	if err != nil {
		return nil, err
	}

	return &CompletionResult{Workflow: workflow, Task: task, Next: started}, nil
}

func uniqueIDs(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)

	return slices.Compact(out)
}
