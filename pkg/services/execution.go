package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/compiler"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// PreparedExecution is a request that passed validation and compilation.
type PreparedExecution struct {
	ID         string
	Definition *models.WorkflowDefinition
	Pipeline   *compiler.CompiledPipeline
	Runtime    *models.RuntimeContext
}

// Execution runs stored workflows.
type Execution struct {
	definitions persistence.DefinitionStore
	recorder    persistence.ExecutionRepository
	catalog     *registry.Catalog
	executor    *workflow.Executor
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewExecution creates an execution service. A nil recorder disables the
// execution log.
func NewExecution(
	definitions persistence.DefinitionStore,
	recorder persistence.ExecutionRepository,
	catalog *registry.Catalog,
	executor *workflow.Executor,
	logger *slog.Logger,
) *Execution {
	return &Execution{
		definitions: definitions,
		recorder:    recorder,
		catalog:     catalog,
		executor:    executor,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "execution_service"),
	}
}

// Prepare loads, compiles and checks the inputs of a request without running it.
func (e *Execution) Prepare(ctx context.Context, req models.ExecutionRequest) (*PreparedExecution, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, NewValidationError("Prepare", "invalid_request", err.Error(),
			fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	definition, err := e.definitions.Load(ctx, req.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", req.WorkflowID, err)
	}

	pipeline, err := compiler.CompileDefinition(e.catalog.Annotate(definition))
	if err != nil {
		return nil, err
	}

	runtime := req.RuntimeContext()

	if err := definition.GlobalInputSchema.Validate(runtime.Inputs); err != nil {
		return nil, NewValidationError("Prepare", "invalid_inputs", err.Error(),
			fmt.Errorf("%w: %w", ErrInvalidInputs, err))
	}

	return &PreparedExecution{
		ID:         uuid.New().String(),
		Definition: definition,
		Pipeline:   pipeline,
		Runtime:    runtime,
	}, nil
}

// Run executes a prepared request and records the result when a recorder is
// configured. Recording is best-effort.
func (e *Execution) Run(ctx context.Context, prepared *PreparedExecution, opts ...workflow.Option) *models.ExecutionResult {
	startedAt := time.Now().UTC()

	opts = append([]workflow.Option{workflow.WithExecutionID(prepared.ID)}, opts...)
	result := e.executor.Execute(ctx, prepared.Pipeline, prepared.Runtime, opts...)

	e.record(ctx, prepared, result, startedAt)

	return result
}

// Execute prepares and runs a request. Errors are returned only for requests
// that never started; step failures are reported in the result.
func (e *Execution) Execute(ctx context.Context, req models.ExecutionRequest, opts ...workflow.Option) (*models.ExecutionResult, error) {
	prepared, err := e.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	return e.Run(ctx, prepared, opts...), nil
}

// History returns the recorded executions of a workflow, newest first.
func (e *Execution) History(ctx context.Context, workflowID string) ([]*models.ExecutionRecord, error) {
	if e.recorder == nil {
		return []*models.ExecutionRecord{}, nil
	}

	records, err := e.recorder.Executions(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of %s: %w", workflowID, err)
	}

	return records, nil
}

func (e *Execution) record(ctx context.Context, prepared *PreparedExecution, result *models.ExecutionResult, startedAt time.Time) {
	if e.recorder == nil {
		return
	}

	record := &models.ExecutionRecord{
		ID:         result.ExecutionID,
		WorkflowID: prepared.Definition.ID,
		Version:    prepared.Definition.Version,
		Result:     result,
		StartedAt:  startedAt,
		EndedAt:    time.Now().UTC(),
	}

	if err := e.recorder.SaveExecution(context.WithoutCancel(ctx), record); err != nil {
		e.logger.WarnContext(ctx, "Failed to record execution",
			"execution_id", record.ID,
			"workflow_id", record.WorkflowID,
			"error", err,
		)
	}
}
