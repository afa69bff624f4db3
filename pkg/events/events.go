// Package events defines execution lifecycle events and the messages carried on the event bus.
package events

import (
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Bus topics.
const (
	ExecutionRequestTopic = "stepflow.execution.requests"
	LifecycleTopic        = "stepflow.execution.lifecycle"
	ExecutionResultTopic  = "stepflow.execution.results"
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionRequestedEvent EventType = "execution.requested"
	ExecutionLifecycleEvent EventType = "execution.lifecycle"
	ExecutionFinishedEvent  EventType = "execution.finished"
)

// TopicFor returns the bus topic that carries eventType, or "" when unknown.
func TopicFor(eventType EventType) string {
	switch eventType {
	case ExecutionRequestedEvent:
		return ExecutionRequestTopic
	case ExecutionLifecycleEvent:
		return LifecycleTopic
	case ExecutionFinishedEvent:
		return ExecutionResultTopic
	default:
		return ""
	}
}

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ExecutionRequested asks a worker to run a workflow.
type ExecutionRequested struct {
	BaseEvent

	Request models.ExecutionRequest `json:"request"`
}

func (e ExecutionRequested) GetType() EventType {
	return ExecutionRequestedEvent
}

// ExecutionLifecycle carries one lifecycle event of a running execution.
type ExecutionLifecycle struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	Lifecycle   LifecycleEvent `json:"lifecycle"`
}

func (e ExecutionLifecycle) GetType() EventType {
	return ExecutionLifecycleEvent
}

type ExecutionFinished struct {
	BaseEvent

	ExecutionID string                  `json:"execution_id"`
	Result      *models.ExecutionResult `json:"result"`
	DurationMs  int64                   `json:"duration_ms"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}
