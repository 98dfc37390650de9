package web_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/dukex/stepflow/pkg/broadcast"
	"github.com/dukex/stepflow/pkg/metrics"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/testutil"
	"github.com/dukex/stepflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) (*fiber.App, *file.Persistence) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaults(registry.Dependencies{Logger: logger})

	hub := broadcast.NewHub()

	return web.NewServer(logger, store, reg, nopPublisher{}, hub, hub, nil, metrics.New()).App(), store
}

func TestServer_RootEndpoint(t *testing.T) {
	app, _ := setupServer(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Stepflow API", string(body))
}

func TestServer_CORSHeaders(t *testing.T) {
	app, _ := setupServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/workflows", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_ProbesAndMetrics(t *testing.T) {
	app, store := setupServer(t)

	for _, path := range []string{"/livez", "/readyz", "/health"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, store.WorkflowRepository().Save(context.Background(), workflow))

	execution := testutil.CreateTestExecution(testutil.CreateTestVersion(workflow.ID), nil)
	execution.ID = "exec-1"
	require.NoError(t, store.ExecutionRepository().CreateExecution(context.Background(), execution))

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/executions/exec-1/cancel", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `stepflow_executions_total{status="cancelled"} 1`)

	stored, err := store.ExecutionRepository().GetExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
}
