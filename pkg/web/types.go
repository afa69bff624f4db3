// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"github.com/dukex/stepflow/pkg/compiler"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/registry"
)

// WorkflowRequest is the body of create and update calls.
type WorkflowRequest struct {
	ID                string             `json:"id,omitempty"`
	Name              string             `json:"name"                          validate:"required,min=1"`
	Description       string             `json:"description"`
	Nodes             []*models.StepNode `json:"nodes"                         validate:"required,min=1"`
	Edges             []*models.DataEdge `json:"edges"`
	GlobalInputSchema *models.JSONSchema `json:"global_input_schema,omitempty"`
}

// Definition converts the request into a workflow definition.
func (r WorkflowRequest) Definition() *models.WorkflowDefinition {
	edges := r.Edges
	if edges == nil {
		edges = []*models.DataEdge{}
	}

	return &models.WorkflowDefinition{
		ID:                r.ID,
		Name:              r.Name,
		Description:       r.Description,
		Nodes:             r.Nodes,
		Edges:             edges,
		GlobalInputSchema: r.GlobalInputSchema,
	}
}

// ExecuteRequest is the body of execution calls. The workflow comes from the path.
type ExecuteRequest struct {
	Inputs             map[string]any    `json:"inputs"`
	ConnectionBindings map[string]string `json:"connection_bindings"`
	TableBindings      map[string]string `json:"table_bindings"`
	ResourceID         string            `json:"resource_id,omitempty" validate:"max=255"`
}

func (r ExecuteRequest) executionRequest(workflowID string) models.ExecutionRequest {
	return models.ExecutionRequest{
		WorkflowID:         workflowID,
		Inputs:             r.Inputs,
		ConnectionBindings: r.ConnectionBindings,
		TableBindings:      r.TableBindings,
		ResourceID:         r.ResourceID,
	}
}

// ExecutionAccepted is returned when an execution is queued on the event bus.
type ExecutionAccepted struct {
	RequestID  string `json:"request_id"`
	WorkflowID string `json:"workflow_id"`
}

// CompiledStepResponse describes one step of a compiled pipeline.
type CompiledStepResponse struct {
	Index     int             `json:"index"`
	ID        string          `json:"id"`
	Type      models.StepType `json:"type"`
	DependsOn []string        `json:"depends_on"`
}

// CompileResponse is the compiled order of a workflow.
type CompileResponse struct {
	WorkflowID string                 `json:"workflow_id"`
	Version    int                    `json:"version"`
	Order      []string               `json:"order"`
	Steps      []CompiledStepResponse `json:"steps"`
}

func newCompileResponse(pipeline *compiler.CompiledPipeline) CompileResponse {
	response := CompileResponse{
		WorkflowID: pipeline.WorkflowID,
		Version:    pipeline.Version,
		Order:      pipeline.Order(),
		Steps:      make([]CompiledStepResponse, 0, pipeline.Len()),
	}

	for _, step := range pipeline.Steps {
		dependsOn := make([]string, 0, len(step.Dependencies))
		for _, dep := range step.Dependencies {
			dependsOn = append(dependsOn, pipeline.Steps[dep].ID())
		}

		response.Steps = append(response.Steps, CompiledStepResponse{
			Index:     step.Index,
			ID:        step.ID(),
			Type:      step.Node.Type,
			DependsOn: dependsOn,
		})
	}

	return response
}

// ConnectorsResponse lists what the registry can run.
type ConnectorsResponse struct {
	StepTypes []models.StepType        `json:"step_types"`
	Toolkits  []string                 `json:"toolkits"`
	Actions   []*registry.CatalogEntry `json:"actions"`
}
