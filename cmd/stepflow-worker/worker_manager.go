package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/scheduler"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/workflow"
)

const shutdownTimeout = 30 * time.Second

type WorkerManager struct {
	id         string
	logger     *slog.Logger
	executions *services.Execution
	eventBus   eventbus.EventBus
	observer   events.Sink
	scheduler  *scheduler.Scheduler
}

// NewWorkerManager creates a worker. eventBus may be nil when the worker only
// runs schedules; results are then only logged and recorded.
func NewWorkerManager(
	id string,
	executions *services.Execution,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *WorkerManager {
	w := &WorkerManager{
		id:         id,
		logger:     logger.With("module", "stepflow-worker", "worker_id", id),
		executions: executions,
		eventBus:   eventBus,
		observer:   events.Discard,
	}

	if eventBus != nil {
		w.observer = eventbus.NewLifecycleForwarder(eventBus, logger, id)
	}

	w.scheduler = scheduler.New(logger, w.runScheduled)

	return w
}

func (w *WorkerManager) Start(ctx context.Context, schedules []scheduler.Schedule) error {
	w.logger.InfoContext(ctx, "Starting worker manager", "schedules", len(schedules))

	for _, schedule := range schedules {
		if err := w.scheduler.Add(schedule); err != nil {
			return err
		}
	}

	if w.eventBus != nil {
		if err := w.eventBus.Handle(events.ExecutionRequestedEvent, w.handleExecutionRequested); err != nil {
			return err
		}

		if err := w.eventBus.Subscribe(ctx); err != nil {
			w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

			return err
		}
	}

	w.scheduler.Start(ctx)

	w.logger.InfoContext(ctx, "Worker started successfully")

	return nil
}

// Stop waits for scheduled runs in flight.
func (w *WorkerManager) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	return w.scheduler.Stop(ctx)
}

func (w *WorkerManager) handleExecutionRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.ExecutionRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ExecutionRequested")

		return nil
	}

	logger := w.logger.With(
		"workflow_id", requested.Request.WorkflowID,
		"request_id", requested.ID,
	)
	logger.InfoContext(ctx, "Processing execution request")

	startedAt := time.Now()
	result := w.run(ctx, logger, requested.ID, requested.Request)

	// Never nacked: a redelivery would run the steps again.
	_ = w.publishFinished(ctx, logger, requested.ID, result, time.Since(startedAt))

	return nil
}

func (w *WorkerManager) runScheduled(ctx context.Context, schedule scheduler.Schedule, firedAt time.Time) error {
	executionID := "scheduled-" + schedule.ID + "-" + firedAt.Format("20060102T150405Z")
	logger := w.logger.With("workflow_id", schedule.WorkflowID, "schedule_id", schedule.ID)

	startedAt := time.Now()
	result := w.run(ctx, logger, executionID, models.ExecutionRequest{WorkflowID: schedule.WorkflowID})

	return w.publishFinished(ctx, logger, executionID, result, time.Since(startedAt))
}

// run executes a request under executionID. Requests that fail before running
// come back as a failed result without step results.
func (w *WorkerManager) run(
	ctx context.Context,
	logger *slog.Logger,
	executionID string,
	req models.ExecutionRequest,
) *models.ExecutionResult {
	prepared, err := w.executions.Prepare(ctx, req)
	if err != nil {
		logger.ErrorContext(ctx, "Execution rejected", "error", err)

		return &models.ExecutionResult{
			ExecutionID: executionID,
			WorkflowID:  req.WorkflowID,
			State:       models.PipelineStateFailed,
			Error:       err.Error(),
			StepResults: []models.StepResult{},
			Err:         err,
		}
	}

	prepared.ID = executionID

	result := w.executions.Run(ctx, prepared, workflow.WithSink(w.observer))

	logger.InfoContext(ctx, "Execution finished",
		"execution_id", result.ExecutionID,
		"state", result.State,
		"success", result.Success,
	)

	return result
}

func (w *WorkerManager) publishFinished(
	ctx context.Context,
	logger *slog.Logger,
	executionID string,
	result *models.ExecutionResult,
	duration time.Duration,
) error {
	if w.eventBus == nil {
		return nil
	}

	finished := events.ExecutionFinished{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFinishedEvent, result.WorkflowID),
		ExecutionID: executionID,
		Result:      result,
		DurationMs:  duration.Milliseconds(),
	}
	finished.WorkerID = w.id

	if err := w.eventBus.Publish(ctx, executionID, finished); err != nil {
		logger.ErrorContext(ctx, "Failed to publish execution finished event", "error", err)

		return err
	}

	return nil
}
