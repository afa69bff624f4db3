package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/testutil"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := file.NewPersistence(t.TempDir())

	reg, err := cmd.NewRegistry(context.Background(), logger, cmd.RegistryConfig{})
	require.NoError(t, err)

	api := NewAPI(
		logger,
		services.NewWorkflow(store, reg.Catalog(), logger),
		services.NewExecution(store, store, reg.Catalog(), workflow.NewExecutor(reg, logger), logger),
		reg,
		nil,
	)

	return api.App()
}

func request(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func TestAPI_RootEndpoint(t *testing.T) {
	resp, body := request(t, setupTestApp(t), http.MethodGet, "/", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Stepflow API", string(body))
}

func TestAPI_Probes(t *testing.T) {
	app := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz"} {
		resp, body := request(t, app, http.MethodGet, path, nil)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "OK", string(body), path)
	}

	resp, body := request(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"healthy"`)
}

func TestAPI_ConnectorsListsDefaults(t *testing.T) {
	resp, body := request(t, setupTestApp(t), http.MethodGet, "/connectors", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var connectors struct {
		StepTypes []models.StepType `json:"step_types"`
	}
	require.NoError(t, json.Unmarshal(body, &connectors))

	assert.Contains(t, connectors.StepTypes, models.StepTypeControlFlow)
	assert.Contains(t, connectors.StepTypes, models.StepTypeTableQuery)
	assert.NotContains(t, connectors.StepTypes, models.StepTypeRemoteTool)
}

func TestAPI_CreateAndExecute(t *testing.T) {
	app := setupTestApp(t)

	schema := testutil.CreateSchema([]string{"name"}, "name")
	schema.Properties["name"].Type = "string"

	definition := map[string]any{
		"id":                  "hello",
		"name":                "Hello",
		"nodes":               []*models.StepNode{testutil.CreateTestNode("greet", testutil.WithInputs([]string{"name"}, "name"))},
		"global_input_schema": schema,
	}

	resp, body := request(t, app, http.MethodPost, "/workflows", definition)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = request(t, app, http.MethodPost, "/workflows/hello/execute", map[string]any{
		"inputs": map[string]any{"name": "Ada"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result models.ExecutionResult
	require.NoError(t, json.Unmarshal(body, &result))

	assert.True(t, result.Success)
	assert.Equal(t, models.PipelineStateCompleted, result.State)
	assert.Equal(t, map[string]any{"name": "Ada"}, result.Output)

	resp, _ = request(t, app, http.MethodPost, "/workflows/hello/execute?async=true", map[string]any{
		"inputs": map[string]any{"name": "Ada"},
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
