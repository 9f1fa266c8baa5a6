package workflow

import (
	"errors"
	"fmt"
	"go/token"
	"reflect"
	"runtime/debug"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrLockUnavailable = errors.New("workflow is locked by another worker")
	ErrNotHumanNode    = errors.New("node is not a human node")
	ErrNotStartNode    = errors.New("node cannot start a workflow")
	ErrFieldNotAllowed = errors.New("field not allowed")
	ErrTaskCompleted   = errors.New("task is already completed")
	ErrNotAssigned     = errors.New("user is not assigned to the task")
	ErrNotInvokable    = errors.New("node is not invokable")
)

// LookupError reports a workflow type or node missing from the registry.
type LookupError struct {
	WorkflowType string
	Node         string
	Err          error
}

func (e *LookupError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("workflow type %q: %v", e.WorkflowType, e.Err)
	}

	return fmt.Sprintf("node %q of workflow type %q: %v", e.Node, e.WorkflowType, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// NodeExecutionError is a failure raised by a node body. It terminates the task as failed.
type NodeExecutionError struct {
	Node       string
	Exception  string
	Stacktrace string
	Err        error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s failed: %s", e.Node, e.Exception)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

func IsLockUnavailable(err error) bool {
	return errors.Is(err, ErrLockUnavailable)
}

// NewNodeExecutionError captures err as returned by node.
func NewNodeExecutionError(node string, err error) *NodeExecutionError {
	var existing *NodeExecutionError
	if errors.As(err, &existing) {
		return existing
	}

	return &NodeExecutionError{
		Node:       node,
		Exception:  errorTypeName(err) + ": " + err.Error(),
		Stacktrace: stacktrace(err),
		Err:        err,
	}
}

// newPanicError captures a value recovered from a panicking node.
func newPanicError(node string, recovered any, stack []byte) *NodeExecutionError {
	err, ok := recovered.(error)
	if !ok {
		err = fmt.Errorf("%v", recovered)
	}

	return &NodeExecutionError{
		Node:       node,
		Exception:  "panic: " + err.Error(),
		Stacktrace: string(stack),
		Err:        err,
	}
}

// errorTypeName is the exported type name of the innermost error, or "Error" for anonymous values.
func errorTypeName(err error) string {
	root := err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}

		root = next
	}

	t := reflect.TypeOf(root)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t == nil || !token.IsExported(t.Name()) {
		return "Error"
	}

	return t.Name()
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

func stacktrace(err error) string {
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if _, ok := cur.(stackTracer); ok {
			if cur == err {
				return fmt.Sprintf("%+v", err)
			}

			return fmt.Sprintf("%s\n%+v", err.Error(), cur)
		}
	}

	var b strings.Builder

	b.Write(debug.Stack())

	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		fmt.Fprintf(&b, "\ncaused by: %s", cur.Error())
	}

	return b.String()
}
