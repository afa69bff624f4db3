package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/gofiber/fiber/v3"
)

// StreamExecution runs a workflow and streams its lifecycle as Server-Sent
// Events. Requests that fail validation get a problem response instead of a
// stream.
func (h *APIHandlers) StreamExecution(c fiber.Ctx) error {
	req, err := h.parseExecuteRequest(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	prepared, err := h.executionService.Prepare(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	logger := h.logger.With("execution_id", prepared.ID, "workflow_id", req.WorkflowID)

	// The request context is recycled once the handler returns; the stream
	// writer runs after that.
	return c.SendStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		stream := newEventStream()

		go func() {
			defer close(stream)

			h.executionService.Run(ctx, prepared,
				workflow.WithSink(events.MultiSink{events.ChannelSink(stream), h.observer}))
		}()

		disconnected := false

		for event := range stream {
			if disconnected {
				continue
			}

			if err := writeEvent(w, event); err != nil {
				logger.WarnContext(ctx, "Stream client disconnected, cancelling execution", "error", err)

				disconnected = true

				cancel()
			}
		}
	})
}

// newEventStream returns the hand-off between the executor and the SSE writer.
// It is unbuffered: each emit waits until the writer has taken the event.
func newEventStream() chan events.LifecycleEvent {
	return make(chan events.LifecycleEvent)
}

func writeEvent(w *bufio.Writer, event events.LifecycleEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Event, err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event, payload); err != nil {
		return err
	}

	return w.Flush()
}
