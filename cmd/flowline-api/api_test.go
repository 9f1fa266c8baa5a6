package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukex/flowline/pkg/cmd"
	"github.com/dukex/flowline/pkg/config"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	cfg := config.Default()
	cfg.DatabaseURL = "sqlite://file:" + uuid.New().String() + "?mode=memory&cache=shared"
	cfg.LockURL = "memory://"
	cfg.PluginsPath = ""

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backends, err := cmd.OpenBackends(context.Background(), cfg, logger, "flowline-api-test")
	require.NoError(t, err)

	t.Cleanup(func() { backends.Close(context.Background()) })

	return NewAPI(logger, backends.Engine, backends.Store).App()
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	status, body := get(t, app, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Flowline API", body)
}

func TestAPI_HealthChecks(t *testing.T) {
	app := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz", "/health"} {
		status, _ := get(t, app, path)
		assert.Equal(t, http.StatusOK, status, path)
	}
}

func TestAPI_StartAndDescribe(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/types/loop/start", strings.NewReader(`{"node":"start"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "operator")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"type":"loop"`)

	status, types := get(t, app, "/types")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, types, `"name":"split_join"`)
}

func TestAPI_Metrics(t *testing.T) {
	app := setupTestApp(t)

	get(t, app, "/types")

	status, body := get(t, app, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "flowline_api_http_requests_total")
}
