// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/stepflow/pkg/models"
)

// CreateTestNode creates a test StepNode with default values that can be overridden.
func CreateTestNode(id string, overrides ...func(*models.StepNode)) *models.StepNode {
	node := &models.StepNode{
		ID:   id,
		Type: models.StepTypeControlFlow,
		Name: "Test Node " + id,
		Config: map[string]any{
			"op": "passthrough",
		},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithRemoteTool configures the node as a remote tool call.
func WithRemoteTool(toolkitSlug, actionID string) func(*models.StepNode) {
	return func(n *models.StepNode) {
		n.Type = models.StepTypeRemoteTool
		n.ToolkitSlug = toolkitSlug
		n.ActionID = actionID
		n.Config = nil
	}
}

// WithCustomCode configures the node as custom code.
func WithCustomCode(code string) func(*models.StepNode) {
	return func(n *models.StepNode) {
		n.Type = models.StepTypeCustomCode
		n.Code = code
		n.Config = nil
	}
}

// WithType sets the node type.
func WithType(stepType models.StepType) func(*models.StepNode) {
	return func(n *models.StepNode) {
		n.Type = stepType
	}
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.StepNode) {
	return func(n *models.StepNode) {
		n.Config = config
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.StepNode) {
	return func(n *models.StepNode) {
		n.Name = name
	}
}

// WithTimeout sets the per-step timeout.
func WithTimeout(timeout time.Duration) func(*models.StepNode) {
	return func(n *models.StepNode) {
		n.TimeoutMs = timeout.Milliseconds()
	}
}

// WithInputs declares the node's input fields; names listed in required are required.
func WithInputs(fields []string, required ...string) func(*models.StepNode) {
	return func(n *models.StepNode) {
		n.InputSchema = CreateSchema(fields, required...)
	}
}

// WithOutputs declares the node's output fields.
func WithOutputs(fields ...string) func(*models.StepNode) {
	return func(n *models.StepNode) {
		n.OutputSchema = CreateSchema(fields)
	}
}

// CreateSchema builds an object schema with untyped properties.
func CreateSchema(fields []string, required ...string) *models.JSONSchema {
	schema := &models.JSONSchema{
		Type:       "object",
		Properties: make(map[string]*models.Property, len(fields)),
		Required:   required,
	}

	for _, field := range fields {
		schema.Properties[field] = &models.Property{}
	}

	return schema
}

// CreateTestEdge creates a field mapping between two steps.
func CreateTestEdge(source, sourcePath, target, targetPath string) *models.DataEdge {
	return &models.DataEdge{
		SourceStepID:    source,
		SourceFieldPath: sourcePath,
		TargetStepID:    target,
		TargetFieldPath: targetPath,
	}
}

// CreateTestDefinition creates a workflow definition from the given nodes and edges.
func CreateTestDefinition(id string, nodes []*models.StepNode, edges ...*models.DataEdge) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:           id,
		Name:         "Test Workflow " + id,
		Description:  "Workflow built for tests",
		Nodes:        nodes,
		Edges:        edges,
		Version:      1,
		LastModified: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// CreateChainDefinition creates a linear chain of passthrough steps where each
// step feeds its "value" output into the next step's "value" input.
func CreateChainDefinition(id string, stepIDs ...string) *models.WorkflowDefinition {
	nodes := make([]*models.StepNode, 0, len(stepIDs))
	edges := make([]*models.DataEdge, 0, len(stepIDs))

	for i, stepID := range stepIDs {
		nodes = append(nodes, CreateTestNode(stepID))

		if i > 0 {
			edges = append(edges, CreateTestEdge(stepIDs[i-1], "value", stepID, "value"))
		}
	}

	return CreateTestDefinition(id, nodes, edges...)
}
