//go:build integration

package web_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/dukex/flowline/internal/samples"
	"github.com/dukex/flowline/pkg/lock"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence/postgresql"
	"github.com/dukex/flowline/pkg/queue/sqlqueue"
	"github.com/dukex/flowline/pkg/registry"
	"github.com/dukex/flowline/pkg/scheduler"
	"github.com/dukex/flowline/pkg/web"
	"github.com/dukex/flowline/pkg/worker"
	"github.com/dukex/flowline/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "flowline_test",
				"POSTGRES_USER":     "flowline",
				"POSTGRES_PASSWORD": "flowline",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://flowline:flowline@%s:%s/flowline_test?sslmode=disable", host, port.Port())
}

func TestIntegration_ShippingOverHTTP(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := postgresql.NewPersistence(ctx, logger, setupTestDB(t))
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close(ctx) })

	q, err := sqlqueue.New(ctx, logger, store.DB(), store.Dialect(), "integration")
	require.NoError(t, err)

	reg := registry.NewRegistry(logger)
	require.NoError(t, reg.Register(samples.Types()...))

	engine := workflow.NewEngine(store, reg, lock.NewMemoryLocker(), scheduler.NewQueueScheduler(q, logger), logger)
	pool := worker.NewPool("integration", q, workflow.NewRunner(engine), logger)

	app := fiber.New()
	web.NewAPIHandlers(engine, store, validator.New(validator.WithRequiredStructEnabled())).Register(app)

	a := &testApp{t: t, app: app}

	started := a.startShipping("buyer@example.com")
	require.Len(t, started.Next, 1)

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/tasks/"+started.Next[0].ID+"/complete", "clerk",
		web.CompleteRequest{State: models.State{"tracking_code": "BR123"}}, nil))

	for {
		processed, err := pool.ProcessOne(ctx)
		require.NoError(t, err)

		if !processed {
			break
		}
	}

	var d detail

	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/workflows/"+started.Workflow.ID, "", nil, &d))
	assert.Equal(t, models.TaskStatusSucceeded, d.task("send_tracking_code").Status)
	assert.Equal(t, models.TaskStatusSucceeded, d.task("end").Status)
	assert.True(t, d.Workflow.State.Bool("tracking_code_sent"))

	var health map[string]any

	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/health", "", nil, &health))
	assert.Equal(t, "healthy", health["status"])
}
