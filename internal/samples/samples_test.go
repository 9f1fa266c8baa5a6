package samples_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/flowline/internal/samples"
	"github.com/dukex/flowline/pkg/lock"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/persistence/persistencetest"
	"github.com/dukex/flowline/pkg/persistence/sqlite"
	"github.com/dukex/flowline/pkg/queue/sqlqueue"
	"github.com/dukex/flowline/pkg/registry"
	"github.com/dukex/flowline/pkg/scheduler"
	"github.com/dukex/flowline/pkg/worker"
	"github.com/dukex/flowline/pkg/workflow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stack wires the samples onto SQLite with the job table in the same database, the way the binaries do.
type stack struct {
	t      *testing.T
	clock  *persistencetest.Clock
	engine *workflow.Engine
	pool   *worker.Pool
}

func newStack(t *testing.T) *stack {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := persistencetest.NewClock()

	store, err := sqlite.NewPersistence(ctx, logger, "file:"+uuid.New().String()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	store.SetClock(clock.Now)

	t.Cleanup(func() { _ = store.Close(context.Background()) })

	q, err := sqlqueue.New(ctx, logger, store.DB(), store.Dialect(), "samples", sqlqueue.WithClock(clock.Now))
	require.NoError(t, err)

	reg := registry.NewRegistry(logger)
	require.NoError(t, reg.Register(samples.Types()...))

	sched := scheduler.NewQueueScheduler(q, logger)
	sched.SetClock(clock.Now)

	engine := workflow.NewEngine(store, reg, lock.NewMemoryLocker(), sched, logger, workflow.WithClock(clock.Now))
	pool := worker.NewPool("test", q, workflow.NewRunner(engine), logger, worker.WithClock(clock.Now))

	return &stack{t: t, clock: clock, engine: engine, pool: pool}
}

// settle processes jobs, jumping the clock forward whenever only delayed jobs remain. A zero jump runs
// only the jobs already due.
func (s *stack) settle(jump time.Duration) {
	s.t.Helper()

	for range 200 {
		processed, err := s.pool.ProcessOne(context.Background())
		require.NoError(s.t, err)

		if !processed {
			s.clock.Advance(jump)

			processed, err = s.pool.ProcessOne(context.Background())
			require.NoError(s.t, err)

			if !processed {
				return
			}
		}
	}

	s.t.Fatal("jobs did not settle")
}

func (s *stack) tasks(workflowID string) map[string][]*models.Task {
	s.t.Helper()

	tasks, err := s.engine.Tasks(context.Background(), persistence.ForWorkflow(workflowID))
	require.NoError(s.t, err)

	byName := make(map[string][]*models.Task)
	for _, task := range tasks {
		byName[task.Name] = append(byName[task.Name], task)
	}

	return byName
}

func (s *stack) state(workflowID string) models.State {
	s.t.Helper()

	detail, err := s.engine.Describe(context.Background(), workflowID)
	require.NoError(s.t, err)

	return detail.Workflow.State
}

func (s *stack) start(typeName string) string {
	s.t.Helper()

	wf, err := s.engine.Start(context.Background(), typeName, "start", nil, models.NewUser("cron"))
	require.NoError(s.t, err)

	return wf.ID
}

func (s *stack) complete(completion workflow.Completion) *workflow.CompletionResult {
	s.t.Helper()

	result, err := s.engine.CompleteHumanTask(context.Background(), completion)
	require.NoError(s.t, err)

	return result
}

func assertSucceeded(t *testing.T, tasks map[string][]*models.Task, names ...string) {
	t.Helper()

	for _, name := range names {
		require.Len(t, tasks[name], 1, "tasks named %s", name)
		assert.Equal(t, models.TaskStatusSucceeded, tasks[name][0].Status, "task %s", name)
	}
}

func TestTypes_Build(t *testing.T) {
	t.Parallel()

	names := make([]string, 0)
	for _, typ := range samples.Types() {
		names = append(names, typ.Name())
	}

	assert.ElementsMatch(t, []string{
		samples.Shipping, samples.Simple, samples.Assignee, samples.Gateway,
		samples.SplitJoin, samples.Loop, samples.Wait, samples.Failing,
	}, names)
}

func TestSplitJoin(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	id := s.start(samples.SplitJoin)

	s.settle(scheduler.MaxBackoff + 5*time.Second)

	tasks := s.tasks(id)
	assertSucceeded(t, tasks, "start", "split", "batman", "robin", "join")
	assert.Equal(t, 2, s.state(id).Int("parallel_task_value"))
}

func TestLoop(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	id := s.start(samples.Loop)

	s.settle(time.Second)

	tasks := s.tasks(id)
	assert.Len(t, tasks["increment_counter"], 10)
	assert.Len(t, tasks["is_counter_10"], 10)
	assertSucceeded(t, tasks, "end")
	assert.Equal(t, 10, s.state(id).Int("counter"))
}

func TestWait(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	id := s.start(samples.Wait)

	s.settle(0)

	tasks := s.tasks(id)
	require.Len(t, tasks["wait"], 1)
	assert.Equal(t, models.TaskStatusScheduled, tasks["wait"][0].Status)
	assert.Empty(t, tasks["end"])

	s.clock.Advance(samples.WaitDuration)
	s.settle(scheduler.MaxBackoff + 5*time.Second)

	assertSucceeded(t, s.tasks(id), "wait", "end")
}

func TestFailing(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	id := s.start(samples.Failing)

	s.settle(time.Second)

	tasks := s.tasks(id)
	require.Len(t, tasks["fail"], 1)
	assert.Equal(t, models.TaskStatusFailed, tasks["fail"][0].Status)
	assert.Equal(t, "Error: Boom!", tasks["fail"][0].Exception)
	assert.NotEmpty(t, tasks["fail"][0].Stacktrace)
}

func TestShipping(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		email   string
		sent    bool
		skipped []string
	}{
		"with email":    {email: "buyer@example.com", sent: true},
		"without email": {skipped: []string{"send_tracking_code"}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := newStack(t)

			checkout := s.complete(workflow.Completion{
				WorkflowType: samples.Shipping,
				Node:         "checkout",
				User:         models.NewUser("buyer"),
				State:        models.State{"shipping_address": "Rua A, 1", "email": tc.email},
			})
			require.Len(t, checkout.Next, 1)
			assert.Equal(t, "ship", checkout.Next[0].Name)

			s.complete(workflow.Completion{
				TaskID: checkout.Next[0].ID,
				User:   models.NewUser("clerk"),
				State:  models.State{"tracking_code": "BR123"},
			})

			s.settle(time.Second)

			tasks := s.tasks(checkout.Workflow.ID)
			assertSucceeded(t, tasks, "checkout", "ship", "has_email", "end")

			for _, skipped := range tc.skipped {
				assert.Empty(t, tasks[skipped])
			}

			state := s.state(checkout.Workflow.ID)
			assert.Equal(t, "BR123", state.String("tracking_code"))
			assert.Equal(t, tc.sent, state.Bool("tracking_code_sent"))
		})
	}
}

func TestGateway(t *testing.T) {
	t.Parallel()

	s := newStack(t)

	result := s.complete(workflow.Completion{
		WorkflowType: samples.Gateway,
		Node:         "start",
		User:         models.NewUser("knight"),
		State:        models.State{"princess": "Peach"},
	})

	s.settle(time.Second)

	tasks := s.tasks(result.Workflow.ID)
	assertSucceeded(t, tasks, "start", "is_princess_safe", "happy_end")
	assert.Empty(t, tasks["bad_end"])
}

func TestSimple_StartsFromFormOrMethod(t *testing.T) {
	t.Parallel()

	s := newStack(t)

	fromForm := s.complete(workflow.Completion{
		WorkflowType: samples.Simple,
		Node:         "start_view",
		User:         models.NewUser("knight"),
		State:        models.State{"princess": "Zelda"},
	})

	fromMethod, err := s.engine.Start(context.Background(), samples.Simple, "start_method", models.State{"dragon": "Smaug"}, nil)
	require.NoError(t, err)

	for _, id := range []string{fromForm.Workflow.ID, fromMethod.ID} {
		tasks := s.tasks(id)
		require.Len(t, tasks["save_the_princess"], 1)
		assert.Equal(t, models.TaskStatusScheduled, tasks["save_the_princess"][0].Status)
	}

	assert.Equal(t, "Zelda", s.state(fromForm.Workflow.ID).String("princess"))
	assert.Equal(t, "Smaug", s.state(fromMethod.ID).String("dragon"))
}

func TestAssignee_PreviousUserOnly(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	ctx := context.Background()

	wf, err := s.engine.Start(ctx, samples.Assignee, "start_method", nil, models.NewUser("alice"))
	require.NoError(t, err)

	rescue := s.tasks(wf.ID)["save_the_princess"]
	require.Len(t, rescue, 1)

	detail, err := s.engine.Describe(ctx, wf.ID)
	require.NoError(t, err)

	for _, task := range detail.Tasks {
		if task.Name == "save_the_princess" {
			assert.Equal(t, []string{"alice"}, task.Assignees)
		}
	}

	_, err = s.engine.CompleteHumanTask(ctx, workflow.Completion{TaskID: rescue[0].ID, User: models.NewUser("bob")})
	require.ErrorIs(t, err, workflow.ErrNotAssigned)

	s.complete(workflow.Completion{
		TaskID: rescue[0].ID,
		User:   models.NewUser("alice"),
		State:  models.State{"princess": "Fiona"},
	})

	s.settle(time.Second)

	assertSucceeded(t, s.tasks(wf.ID), "start_method", "save_the_princess", "end")
}
