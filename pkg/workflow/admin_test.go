package workflow_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/dukex/flowline/pkg/graph"
	"github.com/dukex/flowline/pkg/lock"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRerun(t *testing.T) {
	var calls atomic.Int32

	h := newHarness(t, failingType(func(context.Context, *graph.Execution) (graph.Result, error) {
		if calls.Add(1) == 1 {
			return graph.Result{}, errors.New("Boom!")
		}

		return graph.Continue(), nil
	}))

	wf := h.start("failing", nil)
	h.drain()

	failed := h.onlyTask(wf.ID, "fail")
	require.Equal(t, models.TaskStatusFailed, failed.Status)

	start := h.onlyTask(wf.ID, "start")

	report, err := h.engine.Rerun(context.Background(), []string{failed.ID, start.ID, "missing", failed.ID})
	require.NoError(t, err)
	assert.Equal(t, &workflow.RerunReport{Queued: 1, Skipped: 1, Missing: 1}, report)

	rerun := h.onlyTask(wf.ID, "fail")
	assert.Equal(t, models.TaskStatusScheduled, rerun.Status)
	assert.Nil(t, rerun.Completed)
	assert.Empty(t, rerun.Exception)
	assert.Empty(t, rerun.Stacktrace)

	h.settle()

	assert.Equal(t, models.TaskStatusSucceeded, h.onlyTask(wf.ID, "fail").Status)
	assert.Equal(t, models.TaskStatusSucceeded, h.onlyTask(wf.ID, "after").Status)
}

func TestRerun_ReopensHumanTasks(t *testing.T) {
	h := newHarness(t, approvalType())
	wf := h.start("approval", models.State{"reviewer": "alice"})

	review := h.onlyTask(wf.ID, "review")

	_, err := h.engine.CancelTasks(context.Background(), []string{review.ID}, nil)
	require.NoError(t, err)

	report, err := h.engine.Rerun(context.Background(), []string{review.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reopened)
	assert.Empty(t, h.queue.Jobs())
	assert.Equal(t, models.TaskStatusScheduled, h.onlyTask(wf.ID, "review").Status)
}

func TestCancelTasks(t *testing.T) {
	h := newHarness(t, approvalType())
	wf := h.start("approval", models.State{"reviewer": "alice"})

	review := h.onlyTask(wf.ID, "review")
	start := h.onlyTask(wf.ID, "start")

	report, err := h.engine.CancelTasks(context.Background(), []string{review.ID, start.ID}, models.NewUser("ops"))
	require.NoError(t, err)
	assert.Equal(t, &workflow.CancelReport{Canceled: 1, Skipped: 1}, report)

	review = h.onlyTask(wf.ID, "review")
	assert.Equal(t, models.TaskStatusCanceled, review.Status)
	require.NotNil(t, review.CompletedBy)
	assert.Equal(t, "ops", *review.CompletedBy)
	assert.Equal(t, models.TaskStatusSucceeded, h.onlyTask(wf.ID, "start").Status)
}

func TestOverride(t *testing.T) {
	h := newHarness(t, approvalType())
	wf := h.start("approval", models.State{"reviewer": "alice"})

	review := h.onlyTask(wf.ID, "review")

	result, err := h.engine.Override(context.Background(), wf.ID, []string{"ship"}, models.State{"approved": true}, models.NewUser("ops"))
	require.NoError(t, err)

	override := result.Task
	assert.Equal(t, models.OverrideTaskName, override.Name)
	assert.Equal(t, models.NodeTypeHuman, override.Type)
	assert.Equal(t, models.TaskStatusSucceeded, override.Status)
	require.NotNil(t, override.CompletedBy)
	assert.Equal(t, "ops", *override.CompletedBy)
	assert.Equal(t, []string{"review"}, h.parentNames(override.ID))

	review = h.onlyTask(wf.ID, "review")
	assert.Equal(t, models.TaskStatusCanceled, review.Status)

	require.Len(t, result.Next, 1)
	assert.Equal(t, []string{models.OverrideTaskName}, h.parentNames(result.Next[0].ID))
	assert.True(t, h.workflow(wf.ID).State.Bool("approved"))

	h.drain()
	assert.Equal(t, models.TaskStatusSucceeded, h.onlyTask(wf.ID, "ship").Status)

	diagram, err := h.engine.Mermaid(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Contains(t, diagram, "classDef override")
}

func TestOverride_WithoutActiveTasksLinksLatestTask(t *testing.T) {
	h := newHarness(t, fanOutType())
	wf := h.start("fan_out", nil)

	_, err := h.engine.CancelWorkflow(context.Background(), wf.ID, nil)
	require.NoError(t, err)

	result, err := h.engine.Override(context.Background(), wf.ID, nil, nil, models.NewUser("ops"))
	require.NoError(t, err)

	assert.Empty(t, result.Next)
	assert.Equal(t, []string{"c"}, h.parentNames(result.Task.ID))
}

func TestOverride_Errors(t *testing.T) {
	h := newHarness(t, approvalType())
	wf := h.start("approval", models.State{"reviewer": "alice"})

	_, err := h.engine.Override(context.Background(), wf.ID, []string{"nowhere"}, nil, nil)
	require.ErrorIs(t, err, graph.ErrNodeNotFound)
	assert.Equal(t, models.TaskStatusScheduled, h.onlyTask(wf.ID, "review").Status)

	_, acquired, err := h.locker.TryAcquire(context.Background(), lock.WorkflowKey(wf.ID), lock.DefaultTTL)
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = h.engine.Override(context.Background(), wf.ID, []string{"ship"}, nil, nil)
	require.ErrorIs(t, err, workflow.ErrLockUnavailable)
}
