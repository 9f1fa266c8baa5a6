package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
)

type transaction struct {
	store *Store
	hooks persistence.CommitHooks
}

func (t *transaction) data() *dataset {
	return t.store.data
}

func (t *transaction) OnCommit(hook func(ctx context.Context)) {
	t.hooks.Add(hook)
}

func (t *transaction) CreateWorkflow(_ context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		workflow.ID = newID()
	}

	if _, exists := t.data().workflows[workflow.ID]; exists {
		return persistence.NewWorkflowError("CreateWorkflow", workflow.ID, persistence.ErrConflict)
	}

	now := t.store.now()
	workflow.Created = now
	workflow.Modified = now

	if workflow.State == nil {
		workflow.State = models.State{}
	}

	t.data().workflows[workflow.ID] = copyWorkflow(workflow)

	return nil
}

func (t *transaction) Workflow(_ context.Context, id string, _ bool) (*models.Workflow, error) {
	workflow, ok := t.data().workflows[id]
	if !ok {
		return nil, persistence.NewWorkflowError("Workflow", id, persistence.ErrWorkflowNotFound)
	}

	return copyWorkflow(workflow), nil
}

func (t *transaction) SaveWorkflow(_ context.Context, workflow *models.Workflow, fields []string) error {
	if fields == nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, persistence.ErrStaleWrite)
	}

	stored, ok := t.data().workflows[workflow.ID]
	if !ok {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, persistence.ErrWorkflowNotFound)
	}

	for _, field := range fields {
		if field == models.FieldModified {
			continue
		}

		// A named key missing from the state is stored as null, like the SQL stores do.
		stored.State[field] = workflow.State[field]
	}

	stored.Modified = t.store.now()
	workflow.Modified = stored.Modified

	return nil
}

func (t *transaction) CreateTask(_ context.Context, task *models.Task) error {
	return t.insertTask(task)
}

func (t *transaction) insertTask(task *models.Task) error {
	if _, ok := t.data().workflows[task.WorkflowID]; !ok {
		return persistence.NewWorkflowError("CreateTask", task.WorkflowID, persistence.ErrWorkflowNotFound)
	}

	if task.ID == "" {
		task.ID = newID()
	}

	if task.Status == "" {
		task.Status = models.TaskStatusScheduled
	}

	if task.Exclusive && task.Status == models.TaskStatusScheduled && t.liveExclusive(task.WorkflowID, task.Name) != nil {
		return persistence.NewTaskError("CreateTask", task.ID, persistence.ErrConflict)
	}

	now := t.store.now()
	if task.Created.IsZero() {
		task.Created = now
	}

	task.Modified = now

	t.data().tasks[task.ID] = copyTask(task)
	t.data().taskOrder = append(t.data().taskOrder, task.ID)

	return nil
}

func (t *transaction) liveExclusive(workflowID, name string) *models.Task {
	for _, id := range t.data().taskOrder {
		task := t.data().tasks[id]
		if task.WorkflowID == workflowID && task.Name == name && task.Exclusive && task.Status == models.TaskStatusScheduled {
			return task
		}
	}

	return nil
}

func (t *transaction) Task(_ context.Context, id string) (*models.Task, error) {
	task, ok := t.data().tasks[id]
	if !ok {
		return nil, persistence.NewTaskError("Task", id, persistence.ErrTaskNotFound)
	}

	return copyTask(task), nil
}

func (t *transaction) PendingTask(_ context.Context, id string) (*models.Task, error) {
	task, ok := t.data().tasks[id]
	if !ok || task.Completed != nil {
		return nil, persistence.NewTaskError("PendingTask", id, persistence.ErrTaskNotFound)
	}

	return copyTask(task), nil
}

func (t *transaction) SaveTask(_ context.Context, task *models.Task, fields []string) error {
	if fields == nil {
		return persistence.NewTaskError("SaveTask", task.ID, persistence.ErrStaleWrite)
	}

	stored, ok := t.data().tasks[task.ID]
	if !ok {
		return persistence.NewTaskError("SaveTask", task.ID, persistence.ErrTaskNotFound)
	}

	updated := copyTask(stored)

	for _, field := range fields {
		switch field {
		case models.TaskFieldStatus:
			updated.Status = task.Status
		case models.TaskFieldCompleted:
			updated.Completed = task.Completed
		case models.TaskFieldCompletedBy:
			updated.CompletedBy = task.CompletedBy
		case models.TaskFieldException:
			updated.Exception = task.Exception
		case models.TaskFieldStacktrace:
			updated.Stacktrace = task.Stacktrace
		case models.FieldModified:
		default:
			return persistence.NewTaskError("SaveTask", task.ID, fmt.Errorf("%w: %s", persistence.ErrUnknownField, field))
		}
	}

	if updated.Exclusive && updated.Status == models.TaskStatusScheduled && stored.Status != models.TaskStatusScheduled {
		if live := t.liveExclusive(updated.WorkflowID, updated.Name); live != nil && live.ID != updated.ID {
			return persistence.NewTaskError("SaveTask", task.ID, persistence.ErrConflict)
		}
	}

	updated.Modified = t.store.now()
	task.Modified = updated.Modified
	t.data().tasks[task.ID] = copyTask(updated)

	return nil
}

func (t *transaction) GetOrCreateScheduledTask(_ context.Context, task *models.Task) (*models.Task, bool, error) {
	if live := t.liveExclusive(task.WorkflowID, task.Name); live != nil {
		return copyTask(live), false, nil
	}

	task.Exclusive = true
	task.Status = models.TaskStatusScheduled

	err := t.insertTask(task)
	if err != nil {
		return nil, false, err
	}

	return copyTask(task), true, nil
}

func (t *transaction) FindTasks(_ context.Context, filter persistence.TaskFilter) ([]*models.Task, error) {
	var tasks []*models.Task

	for _, id := range t.data().taskOrder {
		task := t.data().tasks[id]
		if filter.Match(task) {
			tasks = append(tasks, copyTask(task))
		}
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Created.Before(tasks[j].Created)
	})

	return tasks, nil
}

func (t *transaction) CountTasks(ctx context.Context, filter persistence.TaskFilter) (int, error) {
	tasks, err := t.FindTasks(ctx, filter)

	return len(tasks), err
}

func (t *transaction) CancelTasks(_ context.Context, filter persistence.TaskFilter, completedBy *string, at time.Time) (int, error) {
	count := 0
	now := t.store.now()

	for _, id := range t.data().taskOrder {
		task := t.data().tasks[id]
		if !filter.Match(task) {
			continue
		}

		completed := at
		task.Status = models.TaskStatusCanceled
		task.Completed = &completed
		task.CompletedBy = completedBy
		task.Modified = now
		count++
	}

	return count, nil
}

func (t *transaction) AddParents(_ context.Context, taskID string, parentIDs ...string) error {
	if _, ok := t.data().tasks[taskID]; !ok {
		return persistence.NewTaskError("AddParents", taskID, persistence.ErrTaskNotFound)
	}

	current := t.data().parents[taskID]

	for _, parentID := range parentIDs {
		if _, ok := t.data().tasks[parentID]; !ok {
			return persistence.NewTaskError("AddParents", parentID, persistence.ErrTaskNotFound)
		}

		if !slices.Contains(current, parentID) {
			current = append(current, parentID)
		}
	}

	t.data().parents[taskID] = current

	return nil
}

func (t *transaction) SetParents(ctx context.Context, taskID string, parentIDs ...string) error {
	delete(t.data().parents, taskID)

	return t.AddParents(ctx, taskID, parentIDs...)
}

func (t *transaction) Parents(_ context.Context, taskID string) ([]*models.Task, error) {
	var parents []*models.Task

	for _, id := range t.data().parents[taskID] {
		parents = append(parents, copyTask(t.data().tasks[id]))
	}

	return parents, nil
}

func (t *transaction) Children(_ context.Context, taskID string) ([]*models.Task, error) {
	var children []*models.Task

	for _, id := range t.data().taskOrder {
		if slices.Contains(t.data().parents[id], taskID) {
			children = append(children, copyTask(t.data().tasks[id]))
		}
	}

	return children, nil
}

func (t *transaction) Edges(_ context.Context, workflowID string) ([]models.Edge, error) {
	var edges []models.Edge

	for _, id := range t.data().taskOrder {
		if t.data().tasks[id].WorkflowID != workflowID {
			continue
		}

		for _, parentID := range t.data().parents[id] {
			edges = append(edges, models.Edge{ParentID: parentID, ChildID: id})
		}
	}

	return edges, nil
}

func (t *transaction) SetAssignees(_ context.Context, taskID string, userIDs ...string) error {
	if _, ok := t.data().tasks[taskID]; !ok {
		return persistence.NewTaskError("SetAssignees", taskID, persistence.ErrTaskNotFound)
	}

	t.data().assignees[taskID] = slices.Compact(slices.Sorted(slices.Values(userIDs)))

	return nil
}

func (t *transaction) Assignees(_ context.Context, taskID string) ([]string, error) {
	return slices.Clone(t.data().assignees[taskID]), nil
}
