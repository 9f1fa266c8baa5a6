// Package graph declares workflow types: named nodes, the directed edges between them and the behaviors that decide
// what happens when a node's task runs.
package graph

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
)

var (
	ErrNodeNotFound = errors.New("node not found")
	ErrTypeNotFound = errors.New("workflow type not found")
	ErrInvalidState = errors.New("invalid workflow state")
)

// Node is a named step of a workflow type.
type Node interface {
	Name() string
	Type() models.NodeType
}

// Invoker is a node the runner executes with the workflow instance.
type Invoker interface {
	Node
	Invoke(ctx context.Context, ex *Execution) (Result, error)
}

// TaskInvoker is a node the runner executes with the workflow instance and the task being run.
type TaskInvoker interface {
	Node
	InvokeTask(ctx context.Context, ex *Execution, task *models.Task) (Result, error)
}

// TaskCreator replaces the default task creation when a node is started from prev.
type TaskCreator interface {
	Node
	CreateTask(ctx context.Context, ex *Execution, prev *models.Task) (*models.Task, error)
}

// Assigner computes the users allowed to complete a freshly created task.
type Assigner interface {
	Node
	Assignees(ctx context.Context, ex *Execution, task *models.Task) ([]string, error)
}

// Invokable reports whether tasks of node are executed by the runner rather than completed externally.
func Invokable(node Node) bool {
	switch node.(type) {
	case Invoker, TaskInvoker:
		return true
	default:
		return false
	}
}

type resultKind int

const (
	resultContinue resultKind = iota
	resultNotReady
	resultNext
)

// Result is the outcome of a node invocation. The zero value continues along the default edges.
type Result struct {
	kind resultKind
	next []string
}

// Continue follows every outgoing edge of the node.
func Continue() Result {
	return Result{kind: resultContinue}
}

// NotReady leaves the task scheduled; the runner retries it after a backoff.
func NotReady() Result {
	return Result{kind: resultNotReady}
}

// Next starts exactly the named nodes. With no names nothing is started.
func Next(names ...string) Result {
	if names == nil {
		names = []string{}
	}

	return Result{kind: resultNext, next: names}
}

// Ready reports whether the task is done and the graph can move on.
func (r Result) Ready() bool {
	return r.kind != resultNotReady
}

// NextNodes returns the explicit node list and true, or false when the default edges apply.
func (r Result) NextNodes() ([]string, bool) {
	if r.kind != resultNext {
		return nil, false
	}

	return r.next, true
}

func (r Result) String() string {
	switch r.kind {
	case resultNotReady:
		return "not_ready"
	case resultNext:
		return "next"
	default:
		return "continue"
	}
}

// Execution is what a node sees while it runs: the locked workflow instance inside the current transaction.
type Execution struct {
	Workflow *models.Workflow
	Type     *Type
	Tx       persistence.Tx
	Now      time.Time
	Logger   *slog.Logger
}

// Save persists the named state fields of the workflow instance. Without fields only the modified time moves.
func (e *Execution) Save(ctx context.Context, fields ...string) error {
	if fields == nil {
		fields = []string{}
	}

	return e.Tx.SaveWorkflow(ctx, e.Workflow, fields)
}

// State is a shortcut for the workflow instance state.
func (e *Execution) State() models.State {
	return e.Workflow.State
}
