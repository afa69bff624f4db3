// Package models defines the workflow definition graph and the execution boundary types.
package models

import (
	"slices"
	"time"

	"github.com/dukex/stepflow/pkg/fieldpath"
)

// StepType discriminates the kind of work a step performs.
type StepType string

const (
	StepTypeRemoteTool  StepType = "remote_tool"  // External action against a connected account
	StepTypeCustomCode  StepType = "custom_code"  // Caller-supplied logic
	StepTypeTableQuery  StepType = "table_query"  // Reads from a bound table
	StepTypeTableWrite  StepType = "table_write"  // Writes to a bound table
	StepTypeControlFlow StepType = "control_flow" // Pure branch/merge/loop primitives
)

// StepTypes lists every supported step type.
func StepTypes() []StepType {
	return []StepType{
		StepTypeRemoteTool,
		StepTypeCustomCode,
		StepTypeTableQuery,
		StepTypeTableWrite,
		StepTypeControlFlow,
	}
}

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	return slices.Contains(StepTypes(), t)
}

// WorkflowDefinition is the persisted node/edge graph describing an automation.
type WorkflowDefinition struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"                          validate:"required,min=1"`
	Description       string      `json:"description"`
	Nodes             []*StepNode `json:"nodes"                         validate:"required,min=1,dive,required"`
	Edges             []*DataEdge `json:"edges"                         validate:"dive,required"`
	GlobalInputSchema *JSONSchema `json:"global_input_schema,omitempty"`
	Version           int         `json:"version"`
	LastModified      time.Time   `json:"last_modified"`
}

// StepNode is one unit of work inside a workflow definition.
type StepNode struct {
	ID           string         `json:"id"                      validate:"required"`
	Type         StepType       `json:"type"                    validate:"required,oneof=remote_tool custom_code table_query table_write control_flow"`
	Name         string         `json:"name"`
	ToolkitSlug  string         `json:"toolkit_slug,omitempty"  validate:"required_if=Type remote_tool"`
	ActionID     string         `json:"action_id,omitempty"     validate:"required_if=Type remote_tool"`
	InputSchema  *JSONSchema    `json:"input_schema,omitempty"`
	OutputSchema *JSONSchema    `json:"output_schema,omitempty"`
	Code         string         `json:"code,omitempty"          validate:"required_if=Type custom_code"`
	Config       map[string]any `json:"config,omitempty"`
	TimeoutMs    int64          `json:"timeout_ms,omitempty"    validate:"min=0"`
}

// StepTimeout returns the optional per-step timeout; zero means none.
func (n *StepNode) StepTimeout() time.Duration {
	return time.Duration(n.TimeoutMs) * time.Millisecond
}

// ConfigString returns a string config value or fallback when it is absent.
func (n *StepNode) ConfigString(key, fallback string) string {
	if value, ok := n.Config[key].(string); ok && value != "" {
		return value
	}

	return fallback
}

// DataEdge declares that an output field of one step feeds an input field of another.
type DataEdge struct {
	SourceStepID    string `json:"source_step_id"    validate:"required"`
	SourceFieldPath string `json:"source_field_path" validate:"required"`
	TargetStepID    string `json:"target_step_id"    validate:"required"`
	TargetFieldPath string `json:"target_field_path" validate:"required"`
	Transform       string `json:"transform,omitempty"`
}

// Clone returns a deep copy of the definition.
func (d *WorkflowDefinition) Clone() *WorkflowDefinition {
	if d == nil {
		return nil
	}

	out := *d
	out.GlobalInputSchema = d.GlobalInputSchema.Clone()

	if d.Nodes != nil {
		out.Nodes = make([]*StepNode, len(d.Nodes))
		for i, node := range d.Nodes {
			out.Nodes[i] = node.Clone()
		}
	}

	if d.Edges != nil {
		out.Edges = make([]*DataEdge, len(d.Edges))
		for i, edge := range d.Edges {
			if edge == nil {
				continue
			}

			copied := *edge
			out.Edges[i] = &copied
		}
	}

	return &out
}

// Clone returns a deep copy of the node.
func (n *StepNode) Clone() *StepNode {
	if n == nil {
		return nil
	}

	out := *n
	out.InputSchema = n.InputSchema.Clone()
	out.OutputSchema = n.OutputSchema.Clone()

	if n.Config != nil {
		out.Config = fieldpath.CopyMap(n.Config)
	}

	return &out
}
