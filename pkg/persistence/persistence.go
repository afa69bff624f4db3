// Package persistence provides the storage abstraction for workflow definitions
// and recorded execution results.
package persistence

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
)

// DefinitionStore loads and saves workflow definitions.
type DefinitionStore interface {
	Load(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	// Save assigns an id when missing, bumps Version and stamps LastModified.
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	List(ctx context.Context) ([]*models.WorkflowDefinition, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository records finished executions.
type ExecutionRepository interface {
	SaveExecution(ctx context.Context, record *models.ExecutionRecord) error
	// Executions returns the records of a workflow, newest first.
	Executions(ctx context.Context, workflowID string) ([]*models.ExecutionRecord, error)
}

type Persistence interface {
	DefinitionStore
	ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
