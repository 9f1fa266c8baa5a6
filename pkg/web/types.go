package web

import (
	"slices"

	"github.com/dukex/flowline/pkg/graph"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/workflow"
)

// UserHeader carries the id of the acting user. Requests without it act anonymously.
const UserHeader = "X-User-ID"

// StartRequest starts a workflow instance from a start node or a human node without incoming edges.
type StartRequest struct {
	Node  string       `json:"node"  validate:"required"`
	State models.State `json:"state"`
}

// CompleteRequest finishes a pending human task.
type CompleteRequest struct {
	State models.State `json:"state"`
}

// OverrideRequest redirects a workflow instance to the given nodes.
type OverrideRequest struct {
	Next  []string     `json:"next"  validate:"required,min=1,dive,required"`
	State models.State `json:"state"`
}

// TaskIDsRequest selects tasks for a bulk action.
type TaskIDsRequest struct {
	TaskIDs []string `json:"task_ids" validate:"required,min=1,dive,required"`
}

// CompletionResponse reports the task finished by a start or completion and the tasks started after it.
type CompletionResponse struct {
	Workflow *models.Workflow `json:"workflow"`
	Task     *models.Task     `json:"task,omitempty"`
	Next     []*models.Task   `json:"next"`
}

// NewCompletionResponse converts an engine completion result.
func NewCompletionResponse(result *workflow.CompletionResult) CompletionResponse {
	next := result.Next
	if next == nil {
		next = []*models.Task{}
	}

	return CompletionResponse{Workflow: result.Workflow, Task: result.Task, Next: next}
}

// NodeResponse describes one node of a workflow type.
type NodeResponse struct {
	Name   string          `json:"name"`
	Type   models.NodeType `json:"type"`
	Start  bool            `json:"start,omitempty"`
	Fields []string        `json:"fields,omitempty"`
	Next   []string        `json:"next"`
}

// TypeResponse describes a registered workflow type.
type TypeResponse struct {
	Name  string         `json:"name"`
	Nodes []NodeResponse `json:"nodes"`
}

// TransformTypeResponse lists the nodes of t in declaration order with their outgoing edges.
func TransformTypeResponse(t *graph.Type) TypeResponse {
	response := TypeResponse{Name: t.Name(), Nodes: make([]NodeResponse, 0, len(t.Nodes()))}

	for _, node := range t.Nodes() {
		next := make([]string, 0)
		for _, n := range t.NextNodes(node.Name()) {
			next = append(next, n.Name())
		}

		item := NodeResponse{Name: node.Name(), Type: node.Type(), Next: next}

		switch n := node.(type) {
		case *graph.StartNode:
			item.Start = true
		case *graph.HumanNode:
			item.Start = !t.HasIncoming(n.Name())
			item.Fields = slices.Clone(n.Fields())
		}

		response.Nodes = append(response.Nodes, item)
	}

	return response
}
