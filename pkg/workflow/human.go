package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dukex/flowline/pkg/graph"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/otelhelper"
	"github.com/dukex/flowline/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// Completion is the external action finishing a human task. Without TaskID it starts a new workflow instance
// from the human node Node of WorkflowType.
type Completion struct {
	WorkflowType string
	Node         string
	TaskID       string
	User         *models.User
	State        models.State
}

// CompletionResult reports the finished task and the tasks started after it.
type CompletionResult struct {
	Workflow *models.Workflow `json:"workflow"`
	Task     *models.Task     `json:"task"`
	Next     []*models.Task   `json:"next"`
}

// CompleteHumanTask finishes a pending human task with the acting user and fans out, the same way the runner
// does for machine tasks.
func (e *Engine) CompleteHumanTask(ctx context.Context, completion Completion) (*CompletionResult, error) {
	if completion.TaskID == "" {
		return e.startFromHuman(ctx, completion)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "task.complete",
		attribute.String(otelhelper.TaskIDKey, completion.TaskID),
		attribute.String(otelhelper.UserIDKey, userID(completion.User)),
	)
	defer span.End()

	var workflowID string

	err := e.store.Transaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		task, err := tx.Task(ctx, completion.TaskID)
		if err != nil {
			return err
		}

		workflowID = task.WorkflowID

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowIDKey, workflowID))

	var result *CompletionResult

	acquired, err := e.withLock(ctx, workflowID, func() error {
		return e.store.Transaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
			var err error

			result, err = e.completePending(ctx, tx, completion)

			return err
		})
	})
	if err == nil && !acquired {
		err = fmt.Errorf("%w: workflow %s", ErrLockUnavailable, workflowID)
	}

	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.logger.InfoContext(ctx, "Completed human task",
		"task_id", result.Task.ID,
		"workflow_id", workflowID,
		"node", result.Task.Name,
		"next", len(result.Next),
	)

	return result, nil
}

func (e *Engine) completePending(ctx context.Context, tx persistence.Tx, completion Completion) (*CompletionResult, error) {
	task, err := tx.PendingTask(ctx, completion.TaskID)
	if persistence.IsTaskNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrTaskCompleted, completion.TaskID)
	}

	if err != nil {
		return nil, err
	}

	workflow, err := tx.Workflow(ctx, task.WorkflowID, true)
	if err != nil {
		return nil, err
	}

	workflowType, node, err := e.resolve(workflow.Type, task.Name)
	if err != nil {
		return nil, err
	}

	human, err := humanNode(node)
	if err != nil {
		return nil, err
	}

	fields, err := allowedFields(human, completion.State)
	if err != nil {
		return nil, err
	}

	assignees, err := tx.Assignees(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	if len(assignees) > 0 && !slices.Contains(assignees, userID(completion.User)) {
		return nil, fmt.Errorf("%w: task %s", ErrNotAssigned, task.ID)
	}

	for _, key := range fields {
		workflow.State[key] = completion.State[key]
	}

	err = tx.SaveWorkflow(ctx, workflow, fields)
	if err != nil {
		return nil, err
	}

	now := e.now()
	logger := e.logger.With("workflow_id", workflow.ID, "task_id", task.ID)
	session := e.session(tx, now, logger)

	err = session.Finish(ctx, task, completion.User)
	if err != nil {
		return nil, err
	}

	ex := &graph.Execution{Workflow: workflow, Type: workflowType, Tx: tx, Now: now, Logger: logger}

	next, err := session.StartNextTasks(ctx, ex, task, nil)
	if err != nil {
		return nil, err
	}

	return &CompletionResult{Workflow: workflow, Task: task, Next: next}, nil
}

// startFromHuman creates an instance whose first task is the completed human start node.
func (e *Engine) startFromHuman(ctx context.Context, completion Completion) (*CompletionResult, error) {
	workflowType, node, err := e.resolve(completion.WorkflowType, completion.Node)
	if err != nil {
		return nil, err
	}

	human, err := humanNode(node)
	if err != nil {
		return nil, err
	}

	if workflowType.HasIncoming(human.Name()) {
		return nil, fmt.Errorf("%w: human node %q has incoming edges", ErrNotStartNode, human.Name())
	}

	fields, err := allowedFields(human, completion.State)
	if err != nil {
		return nil, err
	}

	state := completion.State.Subset(fields)

	err = workflowType.ValidateState(state)
	if err != nil {
		return nil, err
	}

	workflow := models.NewWorkflow(workflowType.Name(), state)
	result := &CompletionResult{Workflow: workflow}

	err = e.store.Transaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		var err error

		result.Task, result.Next, err = e.begin(ctx, tx, workflowType, workflow, human, completion.User)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start workflow %s: %w", workflowType.Name(), err)
	}

	e.logger.InfoContext(ctx, "Started workflow from human task",
		"workflow_id", workflow.ID,
		"type", workflowType.Name(),
		"node", human.Name(),
	)

	return result, nil
}

func humanNode(node graph.Node) (*graph.HumanNode, error) {
	human, ok := node.(*graph.HumanNode)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotHumanNode, node.Name())
	}

	return human, nil
}

// allowedFields returns the sorted state keys of a completion and rejects every key the node does not allow.
func allowedFields(node *graph.HumanNode, state models.State) ([]string, error) {
	fields := state.Keys()
	slices.Sort(fields)

	var errs []error

	for _, key := range fields {
		if !node.Allows(key) {
			errs = append(errs, fmt.Errorf("%w: %q on node %q", ErrFieldNotAllowed, key, node.Name()))
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return fields, nil
}

func userID(user *models.User) string {
	if id := user.RecordedID(); id != nil {
		return *id
	}

	return ""
}
