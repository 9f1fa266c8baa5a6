package postgresql_test

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
	"github.com/dukex/flowline/pkg/queue/sqlqueue"
	"github.com/dukex/flowline/pkg/registry"
	"github.com/dukex/flowline/pkg/scheduler"
	"github.com/dukex/flowline/pkg/worker"
	"github.com/dukex/flowline/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIntegration_ConcurrentWorkers runs several split/join instances with two worker pools sharing the
// PostgreSQL job table, so branches of one instance race for the workflow lock and the join task.
func TestIntegration_ConcurrentWorkers(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	q, err := sqlqueue.New(ctx, logger, store.DB(), store.Dialect(), "integration")
	require.NoError(t, err)

	reg := registry.NewRegistry(logger)
	require.NoError(t, reg.Register(samples.Types()...))

	engine := workflow.NewEngine(store, reg, lock.NewMemoryLocker(), scheduler.NewQueueScheduler(q, logger), logger)

	const instances = 3

	ids := make([]string, 0, instances)

	for range instances {
		wf, err := engine.Start(ctx, samples.SplitJoin, "start", nil, models.NewUser("integration"))
		require.NoError(t, err)

		ids = append(ids, wf.ID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, id := range []string{"pool-a", "pool-b"} {
		pool := worker.NewPool(id, q, workflow.NewRunner(engine), logger,
			worker.WithConcurrency(2), worker.WithPollInterval(20*time.Millisecond))

		go func() { _ = pool.Run(runCtx) }()
	}

	// Lock contention and unready joins back off for a few seconds.
	require.Eventually(t, func() bool {
		tasks, err := engine.Tasks(ctx, persistence.TaskFilter{Name: "join"}.Succeeded())

		return err == nil && len(tasks) == instances
	}, 90*time.Second, 250*time.Millisecond)

	for _, id := range ids {
		joins, err := engine.Tasks(ctx, persistence.ForWorkflow(id).Named("join"))
		require.NoError(t, err)
		assert.Len(t, joins, 1)

		detail, err := engine.Describe(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, detail.Workflow.State.Int("parallel_task_value"))
	}
}
