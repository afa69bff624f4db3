// Package remotetool executes named external actions against connected accounts.
package remotetool

import (
	"context"
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/registry"
)

// ActionRequest is one invocation of a remote action.
type ActionRequest struct {
	ToolkitSlug  string         `json:"toolkit_slug"`
	ActionID     string         `json:"action_id"`
	ConnectionID string         `json:"connection_id"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Input        map[string]any `json:"input"`
}

// ActionClient performs remote actions. Implementations must not retry.
type ActionClient interface {
	ExecuteAction(ctx context.Context, req ActionRequest) (map[string]any, error)
}

// Connector runs remote tool steps.
type Connector struct {
	client  ActionClient
	catalog *registry.Catalog
	logger  *slog.Logger
}

// NewConnector creates a remote tool connector. catalog may be nil.
func NewConnector(client ActionClient, catalog *registry.Catalog, logger *slog.Logger) *Connector {
	return &Connector{
		client:  client,
		catalog: catalog,
		logger:  logger.With("module", "remotetool"),
	}
}

// Execute resolves the connection bound to the node's toolkit, validates the
// input against the action's input schema, and performs the action once.
func (c *Connector) Execute(
	ctx context.Context,
	node *models.StepNode,
	input map[string]any,
	rctx *models.RuntimeContext,
) (map[string]any, error) {
	connectionID := ""
	if rctx != nil {
		connectionID = rctx.ConnectionBindings[node.ToolkitSlug]
	}

	if connectionID == "" {
		return nil, &protocol.MissingConnectionError{StepID: node.ID, ToolkitSlug: node.ToolkitSlug}
	}

	schema := node.InputSchema
	if entry, ok := c.catalog.Lookup(node.ToolkitSlug, node.ActionID); ok && entry.InputSchema != nil {
		schema = entry.InputSchema
	}

	if err := schema.Validate(input); err != nil {
		return nil, &protocol.InputError{StepID: node.ID, Err: err}
	}

	req := ActionRequest{
		ToolkitSlug:  node.ToolkitSlug,
		ActionID:     node.ActionID,
		ConnectionID: connectionID,
		Input:        input,
	}

	if rctx != nil {
		req.ResourceID = rctx.ResourceID
	}

	c.logger.DebugContext(ctx, "executing remote action",
		"step_id", node.ID,
		"toolkit", node.ToolkitSlug,
		"action", node.ActionID,
	)

	output, err := c.client.ExecuteAction(ctx, req)
	if err != nil {
		return nil, asRemoteActionError(node, err)
	}

	if output == nil {
		output = map[string]any{}
	}

	return output, nil
}

func asRemoteActionError(node *models.StepNode, err error) error {
	if protocol.IsConnectorError(err) {
		return err
	}

	return &protocol.RemoteActionError{
		ToolkitSlug: node.ToolkitSlug,
		ActionID:    node.ActionID,
		Err:         err,
	}
}
