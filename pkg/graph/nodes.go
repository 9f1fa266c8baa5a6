package graph

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dukex/flowline/pkg/models"
)

// MachineFunc is the body of a machine node.
type MachineFunc func(ctx context.Context, ex *Execution) (Result, error)

// MachineTaskFunc is the body of a machine node that needs its task.
type MachineTaskFunc func(ctx context.Context, ex *Execution, task *models.Task) (Result, error)

type baseNode struct {
	name     string
	nodeType models.NodeType
}

func (n baseNode) Name() string {
	return n.name
}

func (n baseNode) Type() models.NodeType {
	return n.nodeType
}

// MachineNode runs a function when its task is executed.
type MachineNode struct {
	baseNode
	fn MachineFunc
}

// Machine declares a node executed by the runner.
func Machine(name string, fn MachineFunc) *MachineNode {
	return &MachineNode{baseNode: baseNode{name: name, nodeType: models.NodeTypeMachine}, fn: fn}
}

func (n *MachineNode) Invoke(ctx context.Context, ex *Execution) (Result, error) {
	return n.fn(ctx, ex)
}

// MachineTaskNode runs a function with the task being executed.
type MachineTaskNode struct {
	baseNode
	fn MachineTaskFunc
}

// MachineWithTask declares a node executed by the runner that receives its task.
func MachineWithTask(name string, fn MachineTaskFunc) *MachineTaskNode {
	return &MachineTaskNode{baseNode: baseNode{name: name, nodeType: models.NodeTypeMachine}, fn: fn}
}

func (n *MachineTaskNode) InvokeTask(ctx context.Context, ex *Execution, task *models.Task) (Result, error) {
	return n.fn(ctx, ex, task)
}

// StartNode is the entry point of a workflow type. Its task is created already succeeded.
type StartNode struct {
	baseNode
}

// Start declares an entry node. Start nodes may only appear as edge tails.
func Start(name string) *StartNode {
	return &StartNode{baseNode: baseNode{name: name, nodeType: models.NodeTypeMachine}}
}

// JoinNode waits until tasks of exactly its parent nodes have converged on one task.
type JoinNode struct {
	baseNode
	parents []string
}

// Join declares a fan-in gate over the named parent nodes.
func Join(name string, parents ...string) *JoinNode {
	set := slices.Clone(parents)
	slices.Sort(set)

	return &JoinNode{baseNode: baseNode{name: name, nodeType: models.NodeTypeMachine}, parents: slices.Compact(set)}
}

// Parents returns the sorted parent node names.
func (n *JoinNode) Parents() []string {
	return slices.Clone(n.parents)
}

// InvokeTask continues only when the parent names recorded on task are exactly the configured set.
func (n *JoinNode) InvokeTask(ctx context.Context, ex *Execution, task *models.Task) (Result, error) {
	parents, err := ex.Tx.Parents(ctx, task.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load parents of task %s: %w", task.ID, err)
	}

	names := make([]string, 0, len(parents))
	for _, parent := range parents {
		names = append(names, parent.Name)
	}

	slices.Sort(names)

	if slices.Equal(slices.Compact(names), n.parents) {
		return Continue(), nil
	}

	return NotReady(), nil
}

// CreateTask reuses the scheduled join task of the workflow instance or creates it.
func (n *JoinNode) CreateTask(ctx context.Context, ex *Execution, _ *models.Task) (*models.Task, error) {
	task, _, err := ex.Tx.GetOrCreateScheduledTask(ctx, models.NewTask(ex.Workflow.ID, n.name, n.nodeType))
	if err != nil {
		return nil, fmt.Errorf("failed to get or create join task %s: %w", n.name, err)
	}

	return task, nil
}

// WaitNode holds its task until a duration has elapsed since the task was created.
type WaitNode struct {
	baseNode
	duration time.Duration
}

// Wait declares a time gate.
func Wait(name string, duration time.Duration) *WaitNode {
	return &WaitNode{baseNode: baseNode{name: name, nodeType: models.NodeTypeMachine}, duration: duration}
}

func (n *WaitNode) Duration() time.Duration {
	return n.duration
}

func (n *WaitNode) InvokeTask(_ context.Context, ex *Execution, task *models.Task) (Result, error) {
	if ex.Now.Sub(task.Created) >= n.duration {
		return Continue(), nil
	}

	return NotReady(), nil
}

// AssignFunc computes the assignees of a human task.
type AssignFunc func(ctx context.Context, ex *Execution, task *models.Task) ([]string, error)

// HumanNode is completed by a person through the API or CLI. The runner never executes it.
type HumanNode struct {
	baseNode
	fields []string
	assign AssignFunc
}

// HumanOption configures a human node.
type HumanOption func(*HumanNode)

// Fields restricts the state keys a completion of the node may write.
func Fields(fields ...string) HumanOption {
	return func(n *HumanNode) {
		n.fields = append(n.fields, fields...)
	}
}

// AssignTo sets the function computing who may complete the node's tasks.
func AssignTo(fn AssignFunc) HumanOption {
	return func(n *HumanNode) {
		n.assign = fn
	}
}

// Human declares a node completed by external action.
func Human(name string, opts ...HumanOption) *HumanNode {
	node := &HumanNode{baseNode: baseNode{name: name, nodeType: models.NodeTypeHuman}}

	for _, opt := range opts {
		opt(node)
	}

	return node
}

// Fields returns the writable state keys. Nil means no state may be written.
func (n *HumanNode) Fields() []string {
	return slices.Clone(n.fields)
}

// Allows reports whether a completion may write key.
func (n *HumanNode) Allows(key string) bool {
	return slices.Contains(n.fields, key)
}

func (n *HumanNode) Assignees(ctx context.Context, ex *Execution, task *models.Task) ([]string, error) {
	if n.assign == nil {
		return nil, nil
	}

	return n.assign(ctx, ex, task)
}
