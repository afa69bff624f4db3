package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/codegen"
	"github.com/dukex/stepflow/pkg/compiler"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/go-playground/validator/v10"
)

// Workflow manages workflow definitions. Definitions are validated and
// compiled against the catalog before they are stored, so everything in the
// store can run.
type Workflow struct {
	persistence persistence.Persistence
	catalog     *registry.Catalog
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, catalog *registry.Catalog, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: persistence,
		catalog:     catalog,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns every stored definition.
func (w *Workflow) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	definitions, err := w.persistence.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return definitions, nil
}

// FetchByID returns a stored definition.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := w.persistence.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch workflow %s: %w", id, err)
	}

	return definition, nil
}

// Create validates and stores a new definition. An empty ID is assigned by
// the store.
func (w *Workflow) Create(ctx context.Context, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if err := w.Validate(definition); err != nil {
		return nil, err
	}

	if err := w.persistence.Save(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow created", "workflow_id", definition.ID, "version", definition.Version)

	return definition, nil
}

// Update replaces the definition stored under id.
func (w *Workflow) Update(ctx context.Context, id string, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if definition == nil {
		return nil, ErrWorkflowNil
	}

	if _, err := w.persistence.Load(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to fetch workflow %s: %w", id, err)
	}

	definition.ID = id

	if err := w.Validate(definition); err != nil {
		return nil, err
	}

	if err := w.persistence.Save(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to save workflow %s: %w", id, err)
	}

	w.logger.InfoContext(ctx, "Workflow updated", "workflow_id", id, "version", definition.Version)

	return definition, nil
}

// Delete removes a stored definition.
func (w *Workflow) Delete(ctx context.Context, id string) error {
	if err := w.persistence.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	w.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", id)

	return nil
}

// Validate checks struct constraints and compiles the definition against the
// catalog. Graph and compile errors are returned unchanged.
func (w *Workflow) Validate(definition *models.WorkflowDefinition) error {
	_, err := w.CompileDefinition(definition)

	return err
}

// CompileDefinition validates and compiles a definition that is not stored.
func (w *Workflow) CompileDefinition(definition *models.WorkflowDefinition) (*compiler.CompiledPipeline, error) {
	if definition == nil {
		return nil, ErrWorkflowNil
	}

	if err := w.validate.Struct(definition); err != nil {
		return nil, NewValidationError("Validate", "invalid_definition", err.Error(),
			fmt.Errorf("%w: %w", ErrInvalidDefinition, err))
	}

	return w.compile(definition)
}

// Compile loads a definition and compiles it.
func (w *Workflow) Compile(ctx context.Context, id string) (*compiler.CompiledPipeline, error) {
	definition, err := w.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return w.compile(definition)
}

// Code renders the compiled form of a stored definition as Go source.
func (w *Workflow) Code(ctx context.Context, id string, at time.Time) (string, error) {
	pipeline, err := w.Compile(ctx, id)
	if err != nil {
		return "", err
	}

	return codegen.Generate(pipeline, at)
}

func (w *Workflow) compile(definition *models.WorkflowDefinition) (*compiler.CompiledPipeline, error) {
	return compiler.CompileDefinition(w.catalog.Annotate(definition))
}
