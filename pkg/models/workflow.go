// Package models defines the persistent records of the workflow engine: workflow instances and their tasks.
package models

import "time"

// Workflow is one running instance of a workflow type.
type Workflow struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"     validate:"required"`
	State    State     `json:"state"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// NewWorkflow returns an unsaved instance of the given workflow type.
func NewWorkflow(workflowType string, state State) *Workflow {
	if state == nil {
		state = State{}
	}

	return &Workflow{
		Type:  workflowType,
		State: state,
	}
}

// IsPersisted reports whether the instance has been inserted.
func (w *Workflow) IsPersisted() bool {
	return w.ID != ""
}
