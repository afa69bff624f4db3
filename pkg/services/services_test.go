package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/connectors/controlflow"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/mocks"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/testutil"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// greeting passes the global "name" input through one control flow step.
func greeting(id string) *models.WorkflowDefinition {
	greet := testutil.CreateTestNode("greet", testutil.WithInputs([]string{"name"}, "name"))

	definition := testutil.CreateTestDefinition(id, []*models.StepNode{greet})
	definition.GlobalInputSchema = testutil.CreateSchema([]string{"name"}, "name")
	definition.GlobalInputSchema.Properties["name"].Type = "string"

	return definition
}

func newExecutionService(store persistence.Persistence) *Execution {
	reg := registry.NewRegistry(testLogger(), nil)
	reg.Register(models.StepTypeControlFlow, controlflow.NewConnector())

	return NewExecution(store, store, reg.Catalog(), workflow.NewExecutor(reg, testLogger()), testLogger())
}

func TestWorkflow_CRUD(t *testing.T) {
	ctx := t.Context()
	store := file.NewPersistence(t.TempDir())
	service := NewWorkflow(store, nil, testLogger())

	created, err := service.Create(ctx, greeting(""))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)

	fetched, err := service.FetchByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, fetched.Name)

	revision := greeting("ignored")
	revision.Name = "Renamed"
	updated, err := service.Update(ctx, created.ID, revision)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, 2, updated.Version)

	list, err := service.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Renamed", list[0].Name)

	require.NoError(t, service.Delete(ctx, created.ID))

	_, err = service.FetchByID(ctx, created.ID)
	assert.True(t, IsNotFound(err))

	_, err = service.Update(ctx, created.ID, greeting(""))
	assert.True(t, IsNotFound(err))

	assert.True(t, IsNotFound(service.Delete(ctx, created.ID)))
}

func TestWorkflow_CreateRejectsInvalidDefinitions(t *testing.T) {
	missingName := greeting("no-name")
	missingName.Name = ""

	cyclic := testutil.CreateChainDefinition("cyclic", "a", "b")
	cyclic.Edges = append(cyclic.Edges, testutil.CreateTestEdge("b", "value", "a", "value"))

	unsatisfied := greeting("unsatisfied")
	unsatisfied.GlobalInputSchema = nil

	badType := greeting("bad-type")
	badType.Nodes[0].Type = "teleport"

	tests := []struct {
		name       string
		definition *models.WorkflowDefinition
		code       string
	}{
		{name: "nil", definition: nil},
		{name: "missing name", definition: missingName, code: "invalid_definition"},
		{name: "unknown step type", definition: badType, code: "invalid_definition"},
		{name: "cycle", definition: cyclic},
		{name: "unsatisfied required input", definition: unsatisfied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mocks.MockPersistence{}
			service := NewWorkflow(store, nil, testLogger())

			_, err := service.Create(t.Context(), tt.definition)
			require.Error(t, err)
			assert.True(t, IsValidationError(err), err.Error())
			assert.Equal(t, tt.code, ErrorCode(err))

			store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
		})
	}
}

func TestWorkflow_CompileAndCode(t *testing.T) {
	ctx := t.Context()
	store := file.NewPersistence(t.TempDir())
	service := NewWorkflow(store, nil, testLogger())

	_, err := service.Create(ctx, testutil.CreateChainDefinition("chain", "a", "b", "c"))
	require.NoError(t, err)

	pipeline, err := service.Compile(ctx, "chain")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, pipeline.Order())

	code, err := service.Code(ctx, "chain", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Contains(t, code, "// Generated at 2025-01-01T00:00:00Z.")
	assert.Contains(t, code, `outputs["a"]`)

	_, err = service.Code(ctx, "missing", time.Now())
	assert.True(t, IsNotFound(err))
}

func TestWorkflow_HealthCheck(t *testing.T) {
	store := &mocks.MockPersistence{}
	store.On("HealthCheck", mock.Anything).Return(nil).Once()
	store.On("HealthCheck", mock.Anything).Return(errors.New("disk gone")).Once()

	service := NewWorkflow(store, nil, testLogger())

	_, healthy := service.HealthCheck(t.Context())
	assert.True(t, healthy)

	message, healthy := service.HealthCheck(t.Context())
	assert.False(t, healthy)
	assert.Contains(t, message, "disk gone")

	message, healthy = NewWorkflow(nil, nil, testLogger()).HealthCheck(t.Context())
	assert.False(t, healthy)
	assert.Equal(t, "Persistence layer not initialized", message)
}

func TestExecution_ExecuteRecordsResult(t *testing.T) {
	ctx := t.Context()
	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.Save(ctx, greeting("hello")))

	service := newExecutionService(store)
	recorder := &events.Recorder{}

	result, err := service.Execute(ctx, models.ExecutionRequest{
		WorkflowID: "hello",
		Inputs:     map[string]any{"name": "Ada"},
	}, workflow.WithSink(recorder))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, models.PipelineStateCompleted, result.State)
	assert.Equal(t, map[string]any{"name": "Ada"}, result.Output)
	assert.Equal(t, []string{"step_start:greet", "step_complete:greet", "done"}, recorder.Types())

	history, err := service.History(ctx, "hello")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, result.ExecutionID, history[0].ID)
	assert.Equal(t, 1, history[0].Version)
	assert.True(t, history[0].Result.Success)
	assert.False(t, history[0].EndedAt.Before(history[0].StartedAt))
}

func TestExecution_RejectsBeforeRunning(t *testing.T) {
	ctx := t.Context()
	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.Save(ctx, greeting("hello")))

	service := newExecutionService(store)

	tests := []struct {
		name    string
		request models.ExecutionRequest
		check   func(error) bool
	}{
		{
			name:    "missing workflow id",
			request: models.ExecutionRequest{},
			check:   IsValidationError,
		},
		{
			name:    "unknown workflow",
			request: models.ExecutionRequest{WorkflowID: "missing"},
			check:   IsNotFound,
		},
		{
			name:    "missing global input",
			request: models.ExecutionRequest{WorkflowID: "hello"},
			check:   func(err error) bool { return errors.Is(err, ErrInvalidInputs) },
		},
		{
			name:    "wrong global input type",
			request: models.ExecutionRequest{WorkflowID: "hello", Inputs: map[string]any{"name": 42}},
			check:   func(err error) bool { return errors.Is(err, models.ErrSchemaValidation) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := service.Execute(ctx, tt.request)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, tt.check(err), err.Error())
		})
	}

	history, err := service.History(ctx, "hello")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestExecution_RecordingIsBestEffort(t *testing.T) {
	store := &mocks.MockPersistence{}
	store.On("Load", mock.Anything, "hello").Return(greeting("hello"), nil)
	store.On("SaveExecution", mock.Anything, mock.MatchedBy(func(record *models.ExecutionRecord) bool {
		return record.WorkflowID == "hello" && record.Result != nil
	})).Return(errors.New("disk full")).Once()

	service := newExecutionService(store)

	result, err := service.Execute(context.Background(), models.ExecutionRequest{
		WorkflowID: "hello",
		Inputs:     map[string]any{"name": "Grace"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	store.AssertExpectations(t)
}

func TestExecution_WithoutRecorder(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.Save(t.Context(), greeting("hello")))

	reg := registry.NewRegistry(testLogger(), nil)
	reg.Register(models.StepTypeControlFlow, controlflow.NewConnector())
	service := NewExecution(store, nil, nil, workflow.NewExecutor(reg, testLogger()), testLogger())

	result, err := service.Execute(t.Context(), models.ExecutionRequest{
		WorkflowID: "hello",
		Inputs:     map[string]any{"name": "Ada"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	history, err := service.History(t.Context(), "hello")
	require.NoError(t, err)
	assert.Empty(t, history)
}
