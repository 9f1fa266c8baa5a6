// Package workflow drives workflow instances through their graphs: starting them, running machine tasks,
// completing human tasks and the administrative actions over tasks.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowline/pkg/graph"
	"github.com/dukex/flowline/pkg/lock"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/otelhelper"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/registry"
	"github.com/dukex/flowline/pkg/scheduler"
	"go.opentelemetry.io/otel/trace"
)

type Engine struct {
	store     persistence.Store
	registry  *registry.Registry
	locker    lock.Locker
	scheduler scheduler.Scheduler
	logger    *slog.Logger
	tracer    trace.Tracer
	lockTTL   time.Duration
	now       func() time.Time
}

type Option func(*Engine)

// WithLockTTL sets how long a workflow lock survives a crashed holder.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func NewEngine(
	store persistence.Store,
	registry *registry.Registry,
	locker lock.Locker,
	sched scheduler.Scheduler,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	engine := &Engine{
		store:     store,
		registry:  registry,
		locker:    locker,
		scheduler: sched,
		logger:    logger.With("module", "workflow_engine"),
		tracer:    otelhelper.NoopTracer(),
		lockTTL:   lock.DefaultTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

func (e *Engine) session(tx persistence.Tx, now time.Time, logger *slog.Logger) *Session {
	return NewSession(tx, e.scheduler, now, logger)
}

// withLock runs fn while holding the lock of workflowID. It reports false without running fn when the lock is held.
func (e *Engine) withLock(ctx context.Context, workflowID string, fn func() error) (bool, error) {
	key := lock.WorkflowKey(workflowID)

	lease, acquired, err := e.locker.TryAcquire(ctx, key, e.lockTTL)
	if err != nil {
		return false, fmt.Errorf("failed to acquire workflow lock: %w", err)
	}

	if !acquired {
		return false, nil
	}

	defer func() {
		err := lease.Release(context.WithoutCancel(ctx))
		if err != nil {
			e.logger.WarnContext(ctx, "Failed to release workflow lock", "workflow_id", workflowID, "error", err)
		}
	}()

	return true, fn()
}

// resolve finds the type of a workflow instance and one of its nodes.
func (e *Engine) resolve(typeName, nodeName string) (*graph.Type, graph.Node, error) {
	workflowType, ok := e.registry.Lookup(typeName)
	if !ok {
		return nil, nil, &LookupError{WorkflowType: typeName, Err: graph.ErrTypeNotFound}
	}

	node, ok := workflowType.Node(nodeName)
	if !ok {
		return workflowType, nil, &LookupError{WorkflowType: typeName, Node: nodeName, Err: graph.ErrNodeNotFound}
	}

	return workflowType, node, nil
}

// Start creates a workflow instance from a start node: its task is recorded as succeeded by user and the
// graph moves on at once. A human node without incoming edges starts the instance through CompleteHumanTask.
func (e *Engine) Start(ctx context.Context, typeName, nodeName string, state models.State, user *models.User) (*models.Workflow, error) {
	workflowType, node, err := e.resolve(typeName, nodeName)
	if err != nil {
		return nil, err
	}

	if human, ok := node.(*graph.HumanNode); ok && !workflowType.HasIncoming(human.Name()) {
		result, err := e.CompleteHumanTask(ctx, Completion{WorkflowType: typeName, Node: nodeName, User: user, State: state})
		if err != nil {
			return nil, err
		}

		return result.Workflow, nil
	}

	if _, ok := node.(*graph.StartNode); !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotStartNode, nodeName)
	}

	err = workflowType.ValidateState(state)
	if err != nil {
		return nil, err
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.start", workflowAttrs(typeName, "")...)
	defer span.End()

	workflow := models.NewWorkflow(typeName, state.Clone())

	err = e.store.Transaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		_, _, err := e.begin(ctx, tx, workflowType, workflow, node, user)

		return err
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to start workflow %s: %w", typeName, err)
	}

	e.logger.InfoContext(ctx, "Started workflow", "workflow_id", workflow.ID, "type", typeName, "node", nodeName)

	return workflow, nil
}

// begin inserts workflow with the finished entry task of node and starts the following tasks.
func (e *Engine) begin(
	ctx context.Context,
	tx persistence.Tx,
	workflowType *graph.Type,
	workflow *models.Workflow,
	node graph.Node,
	user *models.User,
) (*models.Task, []*models.Task, error) {
	now := e.now()

	err := tx.CreateWorkflow(ctx, workflow)
	if err != nil {
		return nil, nil, err
	}

	task := models.NewTask(workflow.ID, node.Name(), node.Type())
	task.Status = models.TaskStatusSucceeded
	task.Completed = &now
	task.CompletedBy = user.RecordedID()

	err = tx.CreateTask(ctx, task)
	if err != nil {
		return nil, nil, err
	}

	logger := e.logger.With("workflow_id", workflow.ID)
	ex := &graph.Execution{Workflow: workflow, Type: workflowType, Tx: tx, Now: now, Logger: logger}

	next, err := e.session(tx, now, logger).StartNextTasks(ctx, ex, task, nil)
	if err != nil {
		return nil, nil, err
	}

	return task, next, nil
}

// CancelWorkflow cancels the scheduled tasks of a workflow instance.
func (e *Engine) CancelWorkflow(ctx context.Context, workflowID string, user *models.User) (int, error) {
	var count int

	err := e.store.Transaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		_, err := tx.Workflow(ctx, workflowID, false)
		if err != nil {
			return err
		}

		count, err = e.session(tx, e.now(), e.logger).CancelWorkflow(ctx, workflowID, user)

		return err
	})
	if err != nil {
		return 0, err
	}

	e.logger.InfoContext(ctx, "Canceled workflow", "workflow_id", workflowID, "tasks", count)

	return count, nil
}

// TaskDetail is a task with its assignees.
type TaskDetail struct {
	*models.Task
	Assignees []string `json:"assignees,omitempty"`
}

// Detail is a workflow instance with its tasks and the parent links between them.
type Detail struct {
	Workflow *models.Workflow `json:"workflow"`
	Tasks    []TaskDetail     `json:"tasks"`
	Edges    []models.Edge    `json:"edges"`
}

// Describe loads a workflow instance with its tasks.
func (e *Engine) Describe(ctx context.Context, workflowID string) (*Detail, error) {
	detail := &Detail{}

	err := e.store.Transaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		workflow, err := tx.Workflow(ctx, workflowID, false)
		if err != nil {
			return err
		}

		tasks, err := tx.FindTasks(ctx, persistence.ForWorkflow(workflowID))
		if err != nil {
			return err
		}

		edges, err := tx.Edges(ctx, workflowID)
		if err != nil {
			return err
		}

		detail.Workflow = workflow
		detail.Edges = edges
		detail.Tasks = make([]TaskDetail, 0, len(tasks))

		for _, task := range tasks {
			item := TaskDetail{Task: task}

			if task.Type == models.NodeTypeHuman {
				item.Assignees, err = tx.Assignees(ctx, task.ID)
				if err != nil {
					return err
				}
			}

			detail.Tasks = append(detail.Tasks, item)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return detail, nil
}

// Tasks lists the tasks matching filter.
func (e *Engine) Tasks(ctx context.Context, filter persistence.TaskFilter) ([]*models.Task, error) {
	var tasks []*models.Task

	err := e.store.Transaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		var err error

		tasks, err = tx.FindTasks(ctx, filter)

		return err
	})

	return tasks, err
}

// Mermaid renders a workflow instance as a Mermaid flowchart.
func (e *Engine) Mermaid(ctx context.Context, workflowID string) (string, error) {
	detail, err := e.Describe(ctx, workflowID)
	if err != nil {
		return "", err
	}

	workflowType, _ := e.registry.Lookup(detail.Workflow.Type)

	tasks := make([]*models.Task, 0, len(detail.Tasks))
	for _, task := range detail.Tasks {
		tasks = append(tasks, task.Task)
	}

	return graph.InstanceMermaid(workflowType, tasks, detail.Edges), nil
}
