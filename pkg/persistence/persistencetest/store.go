// Package persistencetest holds the behavioral tests every persistence.Store implementation must pass.
package persistencetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Clock is a manually advanced clock shared between a test and the store under test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// Factory returns a fresh, empty store that reads time from clock.
type Factory func(t *testing.T, clock *Clock) persistence.Store

// RunStoreTests exercises the persistence contract against the stores produced by factory.
func RunStoreTests(t *testing.T, factory Factory) {
	t.Helper()

	tests := map[string]func(t *testing.T, store persistence.Store, clock *Clock){
		"workflow round trip":                testWorkflowRoundTrip,
		"workflow save requires fields":      testWorkflowSaveRequiresFields,
		"workflow save merges named fields":  testWorkflowSaveMergesFields,
		"workflow save replaces values":      testWorkflowSaveReplacesValues,
		"task save requires fields":          testTaskSaveRequiresFields,
		"empty field list bumps modified":    testTaskSaveEmptyFields,
		"pending task excludes completed":    testPendingTaskExcludesCompleted,
		"scheduled exclusive task is reused": testGetOrCreateScheduledTask,
		"status filters":                     testStatusFilters,
		"bulk cancel":                        testBulkCancel,
		"parents are a union":                testParentsUnion,
		"assignees":                          testAssignees,
		"commit hooks run after commit":      testCommitHooks,
		"rollback discards writes and hooks": testRollback,
		"unknown workflow is not found":      testUnknownWorkflow,
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			clock := NewClock()
			test(t, factory(t, clock), clock)
		})
	}
}

func inTx(t *testing.T, store persistence.Store, fn func(ctx context.Context, tx persistence.Tx)) {
	t.Helper()

	err := store.Transaction(context.Background(), func(ctx context.Context, tx persistence.Tx) error {
		fn(ctx, tx)

		return nil
	})
	require.NoError(t, err)
}

func seed(t *testing.T, store persistence.Store) *models.Workflow {
	t.Helper()

	workflow := models.NewWorkflow("split_join", models.State{"counter": 0})

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		require.NoError(t, tx.CreateWorkflow(ctx, workflow))
	})

	return workflow
}

func seedTask(t *testing.T, store persistence.Store, workflowID, name string) *models.Task {
	t.Helper()

	task := models.NewTask(workflowID, name, models.NodeTypeMachine)

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		require.NoError(t, tx.CreateTask(ctx, task))
	})

	return task
}

func complete(task *models.Task, status models.TaskStatus, at time.Time) {
	task.Status = status
	task.Completed = &at
}

func testWorkflowRoundTrip(t *testing.T, store persistence.Store, clock *Clock) {
	workflow := seed(t, store)

	assert.NotEmpty(t, workflow.ID)
	assert.True(t, workflow.Created.Equal(clock.Now()))

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		loaded, err := tx.Workflow(ctx, workflow.ID, true)
		require.NoError(t, err)

		assert.Equal(t, "split_join", loaded.Type)
		assert.Equal(t, 0, loaded.State.Int("counter"))
		assert.True(t, loaded.Modified.Equal(clock.Now()))
	})
}

func testWorkflowSaveRequiresFields(t *testing.T, store persistence.Store, _ *Clock) {
	workflow := seed(t, store)

	err := store.Transaction(context.Background(), func(ctx context.Context, tx persistence.Tx) error {
		return tx.SaveWorkflow(ctx, workflow, nil)
	})

	assert.True(t, persistence.IsStaleWrite(err))
}

// A saved key takes the in-memory value as is: nested objects are not merged and nil is stored as null.
func testWorkflowSaveReplacesValues(t *testing.T, store persistence.Store, _ *Clock) {
	workflow := models.NewWorkflow("shipping", models.State{
		"address": map[string]any{"city": "Paris", "zip": "75001"},
		"note":    "keep",
		"email":   "a@b.c",
	})

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		require.NoError(t, tx.CreateWorkflow(ctx, workflow))
	})

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		loaded, err := tx.Workflow(ctx, workflow.ID, true)
		require.NoError(t, err)

		loaded.State.Set("address", map[string]any{"city": "Berlin"})
		loaded.State.Set("note", nil)
		require.NoError(t, tx.SaveWorkflow(ctx, loaded, []string{"address", "note"}))
	})

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		saved, err := tx.Workflow(ctx, workflow.ID, false)
		require.NoError(t, err)

		assert.Equal(t, map[string]any{"city": "Berlin"}, saved.State["address"])

		note, ok := saved.State.Get("note")
		assert.True(t, ok)
		assert.Nil(t, note)

		assert.Equal(t, "a@b.c", saved.State.String("email"))
	})

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		partial := models.NewWorkflow(workflow.Type, models.State{})
		partial.ID = workflow.ID
		require.NoError(t, tx.SaveWorkflow(ctx, partial, []string{"email"}))
	})

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		saved, err := tx.Workflow(ctx, workflow.ID, false)
		require.NoError(t, err)

		email, ok := saved.State.Get("email")
		assert.True(t, ok)
		assert.Nil(t, email)
	})
}

func testWorkflowSaveMergesFields(t *testing.T, store persistence.Store, clock *Clock) {
	workflow := seed(t, store)

	clock.Advance(time.Minute)

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		first, err := tx.Workflow(ctx, workflow.ID, true)
		require.NoError(t, err)

		first.State.Set("counter", 1)
		first.State.Set("ignored", "not saved")
		require.NoError(t, tx.SaveWorkflow(ctx, first, []string{"counter"}))

		second := models.NewWorkflow(workflow.Type, models.State{"email": "a@b.c"})
		second.ID = workflow.ID
		require.NoError(t, tx.SaveWorkflow(ctx, second, []string{"email"}))
	})

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		loaded, err := tx.Workflow(ctx, workflow.ID, false)
		require.NoError(t, err)

		assert.Equal(t, 1, loaded.State.Int("counter"))
		assert.Equal(t, "a@b.c", loaded.State.String("email"))
		assert.NotContains(t, loaded.State, "ignored")
		assert.True(t, loaded.Modified.Equal(clock.Now()))
	})
}

func testTaskSaveRequiresFields(t *testing.T, store persistence.Store, _ *Clock) {
	workflow := seed(t, store)
	task := seedTask(t, store, workflow.ID, "split")

	err := store.Transaction(context.Background(), func(ctx context.Context, tx persistence.Tx) error {
		return tx.SaveTask(ctx, task, nil)
	})

	assert.True(t, persistence.IsStaleWrite(err))

	err = store.Transaction(context.Background(), func(ctx context.Context, tx persistence.Tx) error {
		return tx.SaveTask(ctx, task, []string{"name"})
	})

	assert.ErrorIs(t, err, persistence.ErrUnknownField)
}

func testTaskSaveEmptyFields(t *testing.T, store persistence.Store, clock *Clock) {
	workflow := seed(t, store)
	task := seedTask(t, store, workflow.ID, "split")
	created := task.Modified

	clock.Advance(time.Second)

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		task.Exception = "not saved"
		require.NoError(t, tx.SaveTask(ctx, task, []string{}))
	})

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		loaded, err := tx.Task(ctx, task.ID)
		require.NoError(t, err)

		assert.True(t, loaded.Modified.After(created))
		assert.Empty(t, loaded.Exception)
	})
}

func testPendingTaskExcludesCompleted(t *testing.T, store persistence.Store, clock *Clock) {
	workflow := seed(t, store)
	task := seedTask(t, store, workflow.ID, "split")

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		pending, err := tx.PendingTask(ctx, task.ID)
		require.NoError(t, err)

		complete(pending, models.TaskStatusSucceeded, clock.Now())
		require.NoError(t, tx.SaveTask(ctx, pending, []string{models.TaskFieldStatus, models.TaskFieldCompleted}))
	})

	err := store.Transaction(context.Background(), func(ctx context.Context, tx persistence.Tx) error {
		_, err := tx.PendingTask(ctx, task.ID)

		return err
	})

	assert.True(t, persistence.IsTaskNotFound(err))
}

func testGetOrCreateScheduledTask(t *testing.T, store persistence.Store, clock *Clock) {
	workflow := seed(t, store)

	var first, second *models.Task

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		var (
			created bool
			err     error
		)

		first, created, err = tx.GetOrCreateScheduledTask(ctx, models.NewTask(workflow.ID, "join", models.NodeTypeMachine))
		require.NoError(t, err)
		assert.True(t, created)

		second, created, err = tx.GetOrCreateScheduledTask(ctx, models.NewTask(workflow.ID, "join", models.NodeTypeMachine))
		require.NoError(t, err)
		assert.False(t, created)
	})

	assert.Equal(t, first.ID, second.ID)

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		complete(first, models.TaskStatusSucceeded, clock.Now())
		require.NoError(t, tx.SaveTask(ctx, first, []string{models.TaskFieldStatus, models.TaskFieldCompleted}))

		third, created, err := tx.GetOrCreateScheduledTask(ctx, models.NewTask(workflow.ID, "join", models.NodeTypeMachine))
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ID, third.ID)
	})

	err := store.Transaction(context.Background(), func(ctx context.Context, tx persistence.Tx) error {
		duplicate := models.NewTask(workflow.ID, "join", models.NodeTypeMachine)
		duplicate.Exclusive = true

		return tx.CreateTask(ctx, duplicate)
	})

	assert.True(t, persistence.IsConflict(err))
}

func testStatusFilters(t *testing.T, store persistence.Store, clock *Clock) {
	workflow := seed(t, store)

	statuses := []models.TaskStatus{
		models.TaskStatusScheduled, models.TaskStatusSucceeded, models.TaskStatusFailed, models.TaskStatusCanceled,
	}

	ids := make(map[models.TaskStatus]string)

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		for _, status := range statuses {
			clock.Advance(time.Second)

			task := models.NewTask(workflow.ID, string(status), models.NodeTypeMachine)
			if status.IsTerminal() {
				complete(task, status, clock.Now())
			}

			require.NoError(t, tx.CreateTask(ctx, task))
			ids[status] = task.ID
		}
	})

	names := func(filter persistence.TaskFilter) []string {
		var out []string

		inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
			tasks, err := tx.FindTasks(ctx, filter)
			require.NoError(t, err)

			for _, task := range tasks {
				out = append(out, task.Name)
			}

			count, err := tx.CountTasks(ctx, filter)
			require.NoError(t, err)
			assert.Len(t, tasks, count)
		})

		return out
	}

	base := persistence.ForWorkflow(workflow.ID)

	assert.Equal(t, []string{"scheduled"}, names(base.Scheduled()))
	assert.Equal(t, []string{"succeeded"}, names(base.Succeeded()))
	assert.Equal(t, []string{"failed"}, names(base.Failed()))
	assert.Equal(t, []string{"canceled"}, names(base.Canceled()))
	assert.Equal(t, []string{"scheduled", "failed", "canceled"}, names(base.NotSucceeded()))
	assert.Equal(t, []string{"succeeded", "failed", "canceled"}, names(base.NotScheduled()))
	assert.Equal(t, []string{"scheduled"}, names(base.Active()))
	assert.Equal(t, []string{"failed"}, names(persistence.ForTasks(ids[models.TaskStatusFailed])))
	assert.Empty(t, names(persistence.ForTasks()))
}

func testBulkCancel(t *testing.T, store persistence.Store, clock *Clock) {
	workflow := seed(t, store)
	a := seedTask(t, store, workflow.ID, "a")
	b := seedTask(t, store, workflow.ID, "b")

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		complete(b, models.TaskStatusSucceeded, clock.Now())
		require.NoError(t, tx.SaveTask(ctx, b, []string{models.TaskFieldStatus, models.TaskFieldCompleted}))
	})

	user := "alice"

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		count, err := tx.CancelTasks(ctx, persistence.ForWorkflow(workflow.ID).Scheduled(), &user, clock.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		again, err := tx.CancelTasks(ctx, persistence.ForWorkflow(workflow.ID).Scheduled(), &user, clock.Now())
		require.NoError(t, err)
		assert.Equal(t, 0, again)

		loaded, err := tx.Task(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCanceled, loaded.Status)
		require.NotNil(t, loaded.Completed)
		require.NotNil(t, loaded.CompletedBy)
		assert.Equal(t, "alice", *loaded.CompletedBy)
	})
}

func testParentsUnion(t *testing.T, store persistence.Store, _ *Clock) {
	workflow := seed(t, store)
	batman := seedTask(t, store, workflow.ID, "batman")
	robin := seedTask(t, store, workflow.ID, "robin")
	join := seedTask(t, store, workflow.ID, "join")

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		require.NoError(t, tx.AddParents(ctx, join.ID, batman.ID))
		require.NoError(t, tx.AddParents(ctx, join.ID, robin.ID, batman.ID))

		parents, err := tx.Parents(ctx, join.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"batman", "robin"}, taskNames(parents))

		children, err := tx.Children(ctx, batman.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"join"}, taskNames(children))

		edges, err := tx.Edges(ctx, workflow.ID)
		require.NoError(t, err)
		assert.Len(t, edges, 2)

		require.NoError(t, tx.SetParents(ctx, join.ID, robin.ID))

		parents, err = tx.Parents(ctx, join.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"robin"}, taskNames(parents))
	})
}

func testAssignees(t *testing.T, store persistence.Store, _ *Clock) {
	workflow := seed(t, store)
	task := seedTask(t, store, workflow.ID, "approve")

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		require.NoError(t, tx.SetAssignees(ctx, task.ID, "bob", "alice", "bob"))

		users, err := tx.Assignees(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, users)
	})
}

func testCommitHooks(t *testing.T, store persistence.Store, _ *Clock) {
	var order []string

	err := store.Transaction(context.Background(), func(ctx context.Context, tx persistence.Tx) error {
		tx.OnCommit(func(context.Context) { order = append(order, "first") })
		tx.OnCommit(func(context.Context) { order = append(order, "second") })

		order = append(order, "body")

		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"body", "first", "second"}, order)
}

func testRollback(t *testing.T, store persistence.Store, _ *Clock) {
	workflow := seed(t, store)
	boom := errors.New("boom")
	hookCalled := false

	err := store.Transaction(context.Background(), func(ctx context.Context, tx persistence.Tx) error {
		require.NoError(t, tx.CreateTask(ctx, models.NewTask(workflow.ID, "lost", models.NodeTypeMachine)))
		tx.OnCommit(func(context.Context) { hookCalled = true })

		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.False(t, hookCalled)

	inTx(t, store, func(ctx context.Context, tx persistence.Tx) {
		count, err := tx.CountTasks(ctx, persistence.ForWorkflow(workflow.ID))
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func testUnknownWorkflow(t *testing.T, store persistence.Store, _ *Clock) {
	err := store.Transaction(context.Background(), func(ctx context.Context, tx persistence.Tx) error {
		_, err := tx.Workflow(ctx, "missing", false)

		return err
	})

	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func taskNames(tasks []*models.Task) []string {
	names := make([]string, 0, len(tasks))
	for _, task := range tasks {
		names = append(names, task.Name)
	}

	return names
}
