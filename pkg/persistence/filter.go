package persistence

import (
	"slices"

	"github.com/dukex/flowline/pkg/models"
)

// TaskFilter selects tasks. Zero fields do not constrain the result.
type TaskFilter struct {
	// IDs constrains the result when non-nil, even if empty.
	IDs        []string
	WorkflowID string
	Name       string
	Statuses   []models.TaskStatus
	// ExcludeStatuses removes tasks in any of these statuses.
	ExcludeStatuses []models.TaskStatus
	// Pending keeps only tasks that are not completed.
	Pending bool
}

// ForWorkflow returns a filter over the tasks of one workflow instance.
func ForWorkflow(workflowID string) TaskFilter {
	return TaskFilter{WorkflowID: workflowID}
}

// ForTasks returns a filter over the given task ids. An empty id list matches no task.
func ForTasks(ids ...string) TaskFilter {
	if ids == nil {
		ids = []string{}
	}

	return TaskFilter{IDs: ids}
}

func (f TaskFilter) Scheduled() TaskFilter {
	return f.withStatus(models.TaskStatusScheduled)
}

func (f TaskFilter) Succeeded() TaskFilter {
	return f.withStatus(models.TaskStatusSucceeded)
}

func (f TaskFilter) Failed() TaskFilter {
	return f.withStatus(models.TaskStatusFailed)
}

func (f TaskFilter) Canceled() TaskFilter {
	return f.withStatus(models.TaskStatusCanceled)
}

func (f TaskFilter) NotScheduled() TaskFilter {
	return f.withoutStatus(models.TaskStatusScheduled)
}

func (f TaskFilter) NotSucceeded() TaskFilter {
	return f.withoutStatus(models.TaskStatusSucceeded)
}

// Named restricts the filter to tasks of one node.
func (f TaskFilter) Named(name string) TaskFilter {
	f.Name = name

	return f
}

// Active restricts the filter to tasks that are not completed.
func (f TaskFilter) Active() TaskFilter {
	f.Pending = true

	return f
}

// Match reports whether task satisfies the filter. Stores without a query language use it directly.
func (f TaskFilter) Match(task *models.Task) bool {
	if f.IDs != nil && !slices.Contains(f.IDs, task.ID) {
		return false
	}

	if f.WorkflowID != "" && task.WorkflowID != f.WorkflowID {
		return false
	}

	if f.Name != "" && task.Name != f.Name {
		return false
	}

	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, task.Status) {
		return false
	}

	if slices.Contains(f.ExcludeStatuses, task.Status) {
		return false
	}

	if f.Pending && task.Completed != nil {
		return false
	}

	return true
}

func (f TaskFilter) withStatus(status models.TaskStatus) TaskFilter {
	f.Statuses = append(slices.Clone(f.Statuses), status)

	return f
}

func (f TaskFilter) withoutStatus(status models.TaskStatus) TaskFilter {
	f.ExcludeStatuses = append(slices.Clone(f.ExcludeStatuses), status)

	return f
}
