package events

import (
	"context"
	"sync"
	"time"

	"github.com/dukex/stepflow/pkg/models"
)

type LifecycleType string

const (
	StepStart    LifecycleType = "step_start"
	StepComplete LifecycleType = "step_complete"
	StepError    LifecycleType = "step_error"
	Done         LifecycleType = "done"
)

// LifecycleEvent is the streaming boundary record: {event, data}.
type LifecycleEvent struct {
	Event LifecycleType `json:"event"`
	Data  LifecycleData `json:"data"`
}

type LifecycleData struct {
	ExecutionID string                  `json:"executionId"`
	WorkflowID  string                  `json:"workflowId"`
	StepID      string                  `json:"stepId,omitempty"`
	Status      models.StepStatus       `json:"status,omitempty"`
	Input       map[string]any          `json:"input,omitempty"`
	Output      map[string]any          `json:"output,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Timestamp   time.Time               `json:"timestamp"`
	Result      *models.ExecutionResult `json:"result,omitempty"`
}

// Sink receives lifecycle events synchronously, in emission order. Event maps
// are shared with the execution and must be treated as read-only.
type Sink interface {
	Emit(ctx context.Context, event LifecycleEvent)
}

type SinkFunc func(ctx context.Context, event LifecycleEvent)

func (f SinkFunc) Emit(ctx context.Context, event LifecycleEvent) {
	f(ctx, event)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, LifecycleEvent) {})

// MultiSink forwards each event to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event LifecycleEvent) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (r *Recorder) Emit(_ context.Context, event LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func (r *Recorder) Events() []LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]LifecycleEvent, len(r.events))
	copy(out, r.events)

	return out
}

// Types returns the recorded event types as "type" or "type:stepId".
func (r *Recorder) Types() []string {
	recorded := r.Events()
	out := make([]string, 0, len(recorded))

	for _, event := range recorded {
		if event.Data.StepID == "" {
			out = append(out, string(event.Event))

			continue
		}

		out = append(out, string(event.Event)+":"+event.Data.StepID)
	}

	return out
}

// ChannelSink hands each event to a channel, blocking until it is received or
// ctx is done.
type ChannelSink chan<- LifecycleEvent

func (c ChannelSink) Emit(ctx context.Context, event LifecycleEvent) {
	select {
	case c <- event:
	case <-ctx.Done():
	}
}
