package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow instance was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrTaskNotFound indicates a task was not found, or was already completed when a pending task was requested.
	ErrTaskNotFound = errors.New("task not found")

	// ErrStaleWrite indicates a persisted row was saved without an explicit list of changed fields.
	ErrStaleWrite = errors.New("explicit update fields are required to save a persisted row")

	// ErrUnknownField indicates an explicit field list named a field that cannot be updated.
	ErrUnknownField = errors.New("unknown update field")

	// ErrTransient indicates a retryable database condition such as a lock wait timeout or serialization failure.
	ErrTransient = errors.New("transient persistence error")

	// ErrConflict indicates a uniqueness constraint rejected the write.
	ErrConflict = errors.New("conflicting write")
)

// TaskError wraps task-related errors with additional context.
type TaskError struct {
	Op     string // Operation being performed (e.g., "PendingTask", "SaveTask")
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s operation failed for task %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for task errors.
func (e *TaskError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewTaskError creates a new task error with context.
func NewTaskError(op, taskID string, err error) *TaskError {
	return &TaskError{Op: op, TaskID: taskID, Err: err}
}

// WorkflowError wraps workflow-instance errors with additional context.
type WorkflowError struct {
	Op         string
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Err: err}
}

// Transient marks err as retryable while keeping it in the chain.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

func IsTaskNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound)
}

func IsStaleWrite(err error) bool {
	return errors.Is(err, ErrStaleWrite)
}

// IsTransient checks if an error should be retried by the queue rather than recorded on the task.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
