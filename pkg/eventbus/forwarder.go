package eventbus

import (
	"context"
	"log/slog"

	"github.com/dukex/stepflow/pkg/events"
)

// LifecycleForwarder publishes lifecycle events on the bus. Publishing is
// best-effort: failures are logged and never reach the execution.
type LifecycleForwarder struct {
	publisher EventPublisher
	logger    *slog.Logger
	workerID  string
}

func NewLifecycleForwarder(publisher EventPublisher, logger *slog.Logger, workerID string) *LifecycleForwarder {
	return &LifecycleForwarder{
		publisher: publisher,
		logger:    logger.With("module", "lifecycle_forwarder"),
		workerID:  workerID,
	}
}

func (f *LifecycleForwarder) Emit(ctx context.Context, event events.LifecycleEvent) {
	message := events.ExecutionLifecycle{
		BaseEvent:   events.NewBaseEvent(events.ExecutionLifecycleEvent, event.Data.WorkflowID),
		ExecutionID: event.Data.ExecutionID,
		Lifecycle:   event,
	}
	message.WorkerID = f.workerID

	if err := f.publisher.Publish(context.WithoutCancel(ctx), event.Data.ExecutionID, message); err != nil {
		f.logger.WarnContext(ctx, "Failed to publish lifecycle event",
			"execution_id", event.Data.ExecutionID,
			"event", event.Event,
			"step_id", event.Data.StepID,
			"error", err,
		)
	}
}

var _ events.Sink = (*LifecycleForwarder)(nil)
