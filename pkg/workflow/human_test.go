package workflow_test

import (
	"context"
	"testing"

	"github.com/dukex/flowline/pkg/graph"
	"github.com/dukex/flowline/pkg/lock"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approvalType() *graph.Type {
	reviewers := func(_ context.Context, ex *graph.Execution, _ *models.Task) ([]string, error) {
		return []string{ex.State().String("reviewer")}, nil
	}

	return graph.NewType("approval").
		Node(
			graph.Start("start"),
			graph.Human("review", graph.Fields("approved", "comment"), graph.AssignTo(reviewers)),
			graph.Machine("ship", noop),
		).
		Edge("start", "review").
		Edge("review", "ship").
		MustBuild()
}

func requestType() *graph.Type {
	return graph.NewType("request").
		Node(graph.Human("ask", graph.Fields("item")), graph.Machine("process", noop)).
		Edge("ask", "process").
		MustBuild()
}

func TestCompleteHumanTask(t *testing.T) {
	h := newHarness(t, approvalType())
	wf := h.start("approval", models.State{"reviewer": "alice"})

	review := h.onlyTask(wf.ID, "review")
	assert.Equal(t, models.NodeTypeHuman, review.Type)
	assert.Empty(t, h.queue.Jobs(), "human tasks are not queued")

	detail, err := h.engine.Describe(context.Background(), wf.ID)
	require.NoError(t, err)

	for _, task := range detail.Tasks {
		if task.ID == review.ID {
			assert.Equal(t, []string{"alice"}, task.Assignees)
		}
	}

	ctx := context.Background()

	_, err = h.engine.CompleteHumanTask(ctx, workflow.Completion{
		TaskID: review.ID, User: models.NewUser("bob"), State: models.State{"approved": true},
	})
	require.ErrorIs(t, err, workflow.ErrNotAssigned)

	_, err = h.engine.CompleteHumanTask(ctx, workflow.Completion{
		TaskID: review.ID, User: models.NewUser("alice"), State: models.State{"reviewer": "mallory"},
	})
	require.ErrorIs(t, err, workflow.ErrFieldNotAllowed)

	result, err := h.engine.CompleteHumanTask(ctx, workflow.Completion{
		TaskID: review.ID, User: models.NewUser("alice"), State: models.State{"approved": true},
	})
	require.NoError(t, err)

	require.Len(t, result.Next, 1)
	assert.Equal(t, "ship", result.Next[0].Name)

	review = h.onlyTask(wf.ID, "review")
	assert.Equal(t, models.TaskStatusSucceeded, review.Status)
	require.NotNil(t, review.CompletedBy)
	assert.Equal(t, "alice", *review.CompletedBy)

	state := h.workflow(wf.ID).State
	assert.True(t, state.Bool("approved"))
	assert.Equal(t, "alice", state.String("reviewer"))

	assert.Equal(t, 1, h.drain())
	assert.Equal(t, models.TaskStatusSucceeded, h.onlyTask(wf.ID, "ship").Status)

	_, err = h.engine.CompleteHumanTask(ctx, workflow.Completion{TaskID: review.ID, User: models.NewUser("alice")})
	require.ErrorIs(t, err, workflow.ErrTaskCompleted)
}

func TestCompleteHumanTask_RejectsMachineTasks(t *testing.T) {
	h := newHarness(t, approvalType())
	wf := h.start("approval", models.State{"reviewer": "alice"})

	_, err := h.engine.CompleteHumanTask(context.Background(), workflow.Completion{TaskID: h.onlyTask(wf.ID, "review").ID, User: models.NewUser("alice")})
	require.NoError(t, err)

	_, err = h.engine.CompleteHumanTask(context.Background(), workflow.Completion{TaskID: h.onlyTask(wf.ID, "ship").ID})
	require.ErrorIs(t, err, workflow.ErrNotHumanNode)

	_, err = h.engine.CompleteHumanTask(context.Background(), workflow.Completion{TaskID: "missing"})
	assert.True(t, persistence.IsTaskNotFound(err))
}

func TestCompleteHumanTask_LockBusy(t *testing.T) {
	h := newHarness(t, approvalType())
	wf := h.start("approval", models.State{"reviewer": "alice"})

	_, acquired, err := h.locker.TryAcquire(context.Background(), lock.WorkflowKey(wf.ID), lock.DefaultTTL)
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = h.engine.CompleteHumanTask(context.Background(), workflow.Completion{
		TaskID: h.onlyTask(wf.ID, "review").ID, User: models.NewUser("alice"),
	})
	require.ErrorIs(t, err, workflow.ErrLockUnavailable)
	assert.True(t, workflow.IsLockUnavailable(err))
	assert.Equal(t, models.TaskStatusScheduled, h.onlyTask(wf.ID, "review").Status)
}

func TestCompleteHumanTask_StartsWorkflowFromHumanNode(t *testing.T) {
	h := newHarness(t, requestType())

	result, err := h.engine.CompleteHumanTask(context.Background(), workflow.Completion{
		WorkflowType: "request",
		Node:         "ask",
		User:         models.NewUser("carol"),
		State:        models.State{"item": "laptop"},
	})
	require.NoError(t, err)

	wf := result.Workflow
	assert.Equal(t, "laptop", h.workflow(wf.ID).State.String("item"))

	ask := h.onlyTask(wf.ID, "ask")
	assert.Equal(t, models.TaskStatusSucceeded, ask.Status)
	require.NotNil(t, ask.CompletedBy)
	assert.Equal(t, "carol", *ask.CompletedBy)

	h.drain()
	assert.Equal(t, models.TaskStatusSucceeded, h.onlyTask(wf.ID, "process").Status)

	started, err := h.engine.Start(context.Background(), "request", "ask", nil, models.NewUser("dave"))
	require.NoError(t, err)
	assert.NotEqual(t, wf.ID, started.ID)

	_, err = h.engine.CompleteHumanTask(context.Background(), workflow.Completion{
		WorkflowType: "request", Node: "ask", State: models.State{"other": 1},
	})
	require.ErrorIs(t, err, workflow.ErrFieldNotAllowed)

	_, err = h.engine.CompleteHumanTask(context.Background(), workflow.Completion{WorkflowType: "request", Node: "process"})
	require.ErrorIs(t, err, workflow.ErrNotHumanNode)
}

func TestCompleteHumanTask_AnonymousUserIsNotRecorded(t *testing.T) {
	typ := graph.NewType("open").
		Node(graph.Start("start"), graph.Human("sign"), graph.Machine("done", noop)).
		Edge("start", "sign").
		Edge("sign", "done").
		MustBuild()

	h := newHarness(t, typ)
	wf := h.start("open", nil)

	_, err := h.engine.CompleteHumanTask(context.Background(), workflow.Completion{
		TaskID: h.onlyTask(wf.ID, "sign").ID, User: &models.User{ID: "guest", Anonymous: true},
	})
	require.NoError(t, err)

	assert.Nil(t, h.onlyTask(wf.ID, "sign").CompletedBy)
}
