package workflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/flowline/pkg/graph"
	"github.com/dukex/flowline/pkg/lock"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/persistence/memory"
	"github.com/dukex/flowline/pkg/persistence/persistencetest"
	"github.com/dukex/flowline/pkg/queue"
	"github.com/dukex/flowline/pkg/registry"
	"github.com/dukex/flowline/pkg/scheduler"
	"github.com/dukex/flowline/pkg/workflow"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t        *testing.T
	clock    *persistencetest.Clock
	store    *memory.Store
	queue    *queue.Memory
	locker   *lock.MemoryLocker
	registry *registry.Registry
	engine   *workflow.Engine
	runner   *workflow.Runner
}

func newHarness(t *testing.T, types ...*graph.Type) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := persistencetest.NewClock()

	reg := registry.NewRegistry(logger)
	require.NoError(t, reg.Register(types...))

	q := queue.NewMemoryWithClock(clock.Now)
	sched := scheduler.NewQueueScheduler(q, logger)
	sched.SetClock(clock.Now)

	store := memory.NewStore(logger, memory.WithClock(clock.Now))
	locker := lock.NewMemoryLocker()
	engine := workflow.NewEngine(store, reg, locker, sched, logger, workflow.WithClock(clock.Now))

	return &harness{
		t:        t,
		clock:    clock,
		store:    store,
		queue:    q,
		locker:   locker,
		registry: reg,
		engine:   engine,
		runner:   workflow.NewRunner(engine),
	}
}

// drain executes due jobs until none is left and returns how many ran.
func (h *harness) drain() int {
	h.t.Helper()

	ran := 0

	for {
		delivery, err := h.queue.Dequeue(context.Background())
		if errors.Is(err, queue.ErrEmpty) {
			return ran
		}

		require.NoError(h.t, err)
		require.NoError(h.t, h.runner.Execute(context.Background(), delivery.Job))

		ran++
	}
}

// settle drains the queue, advancing the clock past any backoff until no job is left.
func (h *harness) settle() {
	h.t.Helper()

	for range 100 {
		h.drain()

		if len(h.queue.Jobs()) == 0 {
			return
		}

		h.clock.Advance(scheduler.MaxBackoff + 5*time.Second)
	}

	h.t.Fatal("queue did not settle")
}

func (h *harness) tasks(workflowID string) []*models.Task {
	h.t.Helper()

	tasks, err := h.engine.Tasks(context.Background(), persistence.ForWorkflow(workflowID))
	require.NoError(h.t, err)

	return tasks
}

func (h *harness) tasksNamed(workflowID, name string) []*models.Task {
	h.t.Helper()

	tasks, err := h.engine.Tasks(context.Background(), persistence.ForWorkflow(workflowID).Named(name))
	require.NoError(h.t, err)

	return tasks
}

func (h *harness) onlyTask(workflowID, name string) *models.Task {
	h.t.Helper()

	tasks := h.tasksNamed(workflowID, name)
	require.Len(h.t, tasks, 1, "tasks named %s", name)

	return tasks[0]
}

func (h *harness) workflow(workflowID string) *models.Workflow {
	h.t.Helper()

	detail, err := h.engine.Describe(context.Background(), workflowID)
	require.NoError(h.t, err)

	return detail.Workflow
}

func (h *harness) parentNames(taskID string) []string {
	h.t.Helper()

	var names []string

	err := h.store.Transaction(context.Background(), func(ctx context.Context, tx persistence.Tx) error {
		parents, err := tx.Parents(ctx, taskID)
		for _, parent := range parents {
			names = append(names, parent.Name)
		}

		return err
	})
	require.NoError(h.t, err)

	return names
}

func (h *harness) start(typeName string, state models.State) *models.Workflow {
	h.t.Helper()

	wf, err := h.engine.Start(context.Background(), typeName, "start", state, models.NewUser("starter"))
	require.NoError(h.t, err)

	return wf
}

// increment adds one to the counter state key.
func increment(ctx context.Context, ex *graph.Execution) (graph.Result, error) {
	ex.State().Set("counter", ex.State().Int("counter")+1)

	return graph.Continue(), ex.Save(ctx, "counter")
}

func noop(context.Context, *graph.Execution) (graph.Result, error) {
	return graph.Continue(), nil
}
