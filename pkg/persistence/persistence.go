// Package persistence provides the storage contract for workflow instances and tasks.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/flowline/pkg/models"
)

// Store opens units of work over workflow and task records.
type Store interface {
	// Transaction runs fn inside one database transaction. The transaction commits when fn returns nil
	// and rolls back otherwise. Hooks registered with Tx.OnCommit run after a successful commit.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Tx is a unit of work. Implementations are not safe for concurrent use.
type Tx interface {
	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	// Workflow loads an instance. With forUpdate the row stays write-locked until the transaction ends.
	Workflow(ctx context.Context, id string, forUpdate bool) (*models.Workflow, error)
	// SaveWorkflow persists the named state keys of an existing instance and bumps modified.
	// A nil field list is rejected with ErrStaleWrite.
	SaveWorkflow(ctx context.Context, workflow *models.Workflow, fields []string) error

	CreateTask(ctx context.Context, task *models.Task) error
	Task(ctx context.Context, id string) (*models.Task, error)
	// PendingTask loads a task that is not completed yet and write-locks it.
	PendingTask(ctx context.Context, id string) (*models.Task, error)
	// SaveTask persists the named fields of an existing task and bumps modified.
	// A nil field list is rejected with ErrStaleWrite.
	SaveTask(ctx context.Context, task *models.Task, fields []string) error
	// GetOrCreateScheduledTask returns the scheduled exclusive task with the same workflow and name,
	// inserting task when none exists. The boolean reports whether a row was inserted.
	GetOrCreateScheduledTask(ctx context.Context, task *models.Task) (*models.Task, bool, error)
	FindTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error)
	CountTasks(ctx context.Context, filter TaskFilter) (int, error)
	// CancelTasks bulk-cancels the tasks matched by filter and returns how many rows changed.
	CancelTasks(ctx context.Context, filter TaskFilter, completedBy *string, at time.Time) (int, error)

	// AddParents unions parentIDs into the parent set of taskID.
	AddParents(ctx context.Context, taskID string, parentIDs ...string) error
	// SetParents replaces the parent set of taskID.
	SetParents(ctx context.Context, taskID string, parentIDs ...string) error
	Parents(ctx context.Context, taskID string) ([]*models.Task, error)
	Children(ctx context.Context, taskID string) ([]*models.Task, error)
	// Edges returns every parent/child link between tasks of a workflow.
	Edges(ctx context.Context, workflowID string) ([]models.Edge, error)

	SetAssignees(ctx context.Context, taskID string, userIDs ...string) error
	Assignees(ctx context.Context, taskID string) ([]string, error)

	// OnCommit registers a hook that runs once the transaction has committed.
	OnCommit(hook func(ctx context.Context))
}
