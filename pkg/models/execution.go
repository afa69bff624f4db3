package models

import "time"

// RuntimeContext is the per-execution bundle of bindings and raw inputs.
// It is supplied fresh for each execution and never mutated by the engine.
type RuntimeContext struct {
	ResourceID         string            `json:"resource_id,omitempty"`
	ConnectionBindings map[string]string `json:"connection_bindings"` // toolkit slug -> connection id
	TableBindings      map[string]string `json:"table_bindings"`      // logical table name -> table id
	Inputs             map[string]any    `json:"inputs"`
}

// ExecutionRequest is the invocation boundary of an execution.
type ExecutionRequest struct {
	WorkflowID         string            `json:"workflow_id"          validate:"required"`
	Inputs             map[string]any    `json:"inputs"`
	ConnectionBindings map[string]string `json:"connection_bindings"`
	TableBindings      map[string]string `json:"table_bindings"`
	ResourceID         string            `json:"resource_id,omitempty"`
}

// RuntimeContext builds the runtime context carried by the request.
func (r ExecutionRequest) RuntimeContext() *RuntimeContext {
	rctx := &RuntimeContext{
		ResourceID:         r.ResourceID,
		ConnectionBindings: r.ConnectionBindings,
		TableBindings:      r.TableBindings,
		Inputs:             r.Inputs,
	}

	if rctx.ConnectionBindings == nil {
		rctx.ConnectionBindings = map[string]string{}
	}

	if rctx.TableBindings == nil {
		rctx.TableBindings = map[string]string{}
	}

	if rctx.Inputs == nil {
		rctx.Inputs = map[string]any{}
	}

	return rctx
}

// PipelineState is the executor state machine position.
type PipelineState string

const (
	PipelineStatePending   PipelineState = "pending"
	PipelineStateRunning   PipelineState = "running"
	PipelineStateCompleted PipelineState = "completed"
	PipelineStateFailed    PipelineState = "failed"
	PipelineStateCancelled PipelineState = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s PipelineState) Terminal() bool {
	return s == PipelineStateCompleted || s == PipelineStateFailed || s == PipelineStateCancelled
}

// StepStatus defines the possible states of a step execution.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSuccess   StepStatus = "success"
	StepStatusError     StepStatus = "error"
	StepStatusCancelled StepStatus = "cancelled"
)

// StepResult records the outcome of one dispatched step.
type StepResult struct {
	StepID    string         `json:"stepId"`
	Status    StepStatus     `json:"status"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   time.Time      `json:"endedAt"`
}

// ExecutionResult is the result boundary of an execution.
type ExecutionResult struct {
	ExecutionID string        `json:"executionId,omitempty"`
	WorkflowID  string        `json:"workflowId,omitempty"`
	Success     bool          `json:"success"`
	State       PipelineState `json:"state"`
	Output      any           `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	StepResults []StepResult  `json:"stepResults"`

	// Err carries the typed error behind Error for in-process callers.
	Err error `json:"-"`
}

// ExecutionRecord is a logged execution result.
type ExecutionRecord struct {
	ID         string           `json:"id"`
	WorkflowID string           `json:"workflow_id"`
	Version    int              `json:"version"`
	Result     *ExecutionResult `json:"result"`
	StartedAt  time.Time        `json:"started_at"`
	EndedAt    time.Time        `json:"ended_at"`
}
