package models

import "time"

// NodeType tells whether a node is executed by the engine or completed by a person.
type NodeType string

const (
	NodeTypeHuman   NodeType = "human"
	NodeTypeMachine NodeType = "machine"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusScheduled TaskStatus = "scheduled"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCanceled  TaskStatus = "canceled"
)

// IsTerminal reports whether the status ends the task's lifecycle.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed || s == TaskStatusCanceled
}

// Task field names accepted by explicit-field saves.
const (
	TaskFieldStatus      = "status"
	TaskFieldCompleted   = "completed"
	TaskFieldCompletedBy = "completed_by"
	TaskFieldException   = "exception"
	TaskFieldStacktrace  = "stacktrace"
	FieldModified        = "modified"
)

// OverrideTaskName is the name of the task recorded when an operator overrides a workflow.
const OverrideTaskName = "override"

// Task records one execution or waiting point of a node for one workflow instance.
type Task struct {
	ID          string     `json:"id"`
	WorkflowID  string     `json:"workflow_id"`
	Name        string     `json:"name"`
	Type        NodeType   `json:"type"`
	Status      TaskStatus `json:"status"`
	Created     time.Time  `json:"created"`
	Modified    time.Time  `json:"modified"`
	Completed   *time.Time `json:"completed,omitempty"`
	CompletedBy *string    `json:"completed_by,omitempty"`
	Exception   string     `json:"exception,omitempty"`
	Stacktrace  string     `json:"stacktrace,omitempty"`

	// Exclusive tasks are unique among the scheduled tasks of a workflow with the same name.
	Exclusive bool `json:"exclusive,omitempty"`
}

// NewTask returns an unsaved scheduled task.
func NewTask(workflowID, name string, nodeType NodeType) *Task {
	return &Task{
		WorkflowID: workflowID,
		Name:       name,
		Type:       nodeType,
		Status:     TaskStatusScheduled,
	}
}

// IsPersisted reports whether the task has been inserted.
func (t *Task) IsPersisted() bool {
	return t.ID != ""
}

// IsCompleted reports whether the task reached a terminal state.
func (t *Task) IsCompleted() bool {
	return t.Completed != nil
}

func (t *Task) String() string {
	return t.Name + " (" + t.ID + ")"
}

// Edge links a parent task to one of its children.
type Edge struct {
	ParentID string `json:"parent_id"`
	ChildID  string `json:"child_id"`
}
