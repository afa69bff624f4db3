// Package protocol defines the interfaces and contracts for pluggable step connectors.
package protocol

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
)

// Connector performs the work of one step. Implementations must not retry
// silently and must not cause side effects beyond the one action they represent.
type Connector interface {
	// Execute runs the step against the resolved input object. The runtime
	// context is read-only.
	Execute(ctx context.Context, node *models.StepNode, input map[string]any, rctx *models.RuntimeContext) (map[string]any, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, node *models.StepNode, input map[string]any, rctx *models.RuntimeContext) (map[string]any, error)

func (f ConnectorFunc) Execute(ctx context.Context, node *models.StepNode, input map[string]any, rctx *models.RuntimeContext) (map[string]any, error) {
	return f(ctx, node, input, rctx)
}

// ConnectorFactory creates toolkit-specific connectors and provides metadata about them.
// Factories are registered in code or loaded from plugins.
type ConnectorFactory interface {
	// Create creates a new connector with the given configuration
	Create(ctx context.Context, config map[string]any) (Connector, error)

	// ID returns the toolkit slug this factory serves
	ID() string

	// Name returns the human-readable name for this toolkit
	Name() string

	// Description returns a description of what this toolkit does
	Description() string
}
