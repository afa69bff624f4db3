package eventbus_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/stepflow/pkg/channels/gochannel"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := eventbus.NewWatermillEventBus(logger, pub, sub)

	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)

	requests := make(chan *events.ExecutionRequested, 1)
	finished := make(chan *events.ExecutionFinished, 1)

	require.NoError(t, bus.Handle(events.ExecutionRequestedEvent, func(_ context.Context, event any) error {
		requests <- event.(*events.ExecutionRequested)

		return nil
	}))
	require.NoError(t, bus.Handle(events.ExecutionFinishedEvent, func(_ context.Context, event any) error {
		finished <- event.(*events.ExecutionFinished)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	request := events.ExecutionRequested{
		BaseEvent: events.NewBaseEvent(events.ExecutionRequestedEvent, "newsletter"),
		Request: models.ExecutionRequest{
			WorkflowID: "newsletter",
			Inputs:     map[string]any{"url": "https://example.com"},
		},
	}
	require.NoError(t, bus.Publish(ctx, "newsletter", request))

	select {
	case got := <-requests:
		assert.Equal(t, "newsletter", got.Request.WorkflowID)
		assert.Equal(t, "https://example.com", got.Request.Inputs["url"])
		assert.Equal(t, request.ID, got.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("execution request not delivered")
	}

	require.NoError(t, bus.Publish(ctx, "ex-1", events.ExecutionFinished{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFinishedEvent, "newsletter"),
		ExecutionID: "ex-1",
		Result:      &models.ExecutionResult{Success: true, State: models.PipelineStateCompleted},
	}))

	select {
	case got := <-finished:
		assert.Equal(t, "ex-1", got.ExecutionID)
		assert.True(t, got.Result.Success)
	case <-time.After(5 * time.Second):
		t.Fatal("execution result not delivered")
	}
}

func TestWatermillEventBus_Errors(t *testing.T) {
	bus := newBus(t)

	assert.ErrorIs(t, bus.Subscribe(context.Background()), eventbus.ErrNoHandlers)
	assert.ErrorIs(t, bus.Handle("unknown", nil), eventbus.ErrUnknownEventType)
	assert.NotEmpty(t, bus.GenerateID())
}

type failingPublisher struct {
	mu    sync.Mutex
	calls int
}

func (p *failingPublisher) Publish(context.Context, string, eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++

	return errors.New("broker unavailable")
}

func TestLifecycleForwarder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)
	received := make(chan *events.ExecutionLifecycle, 4)

	require.NoError(t, bus.Handle(events.ExecutionLifecycleEvent, func(_ context.Context, event any) error {
		received <- event.(*events.ExecutionLifecycle)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	forwarder := eventbus.NewLifecycleForwarder(bus, logger, "worker-1")

	forwarder.Emit(ctx, events.LifecycleEvent{
		Event: events.StepComplete,
		Data: events.LifecycleData{
			ExecutionID: "ex-1",
			WorkflowID:  "newsletter",
			StepID:      "fetchUrl",
			Status:      models.StepStatusSuccess,
			Output:      map[string]any{"content": "hello"},
		},
	})

	select {
	case got := <-received:
		assert.Equal(t, "ex-1", got.ExecutionID)
		assert.Equal(t, "worker-1", got.WorkerID)
		assert.Equal(t, "newsletter", got.WorkflowID)
		assert.Equal(t, events.StepComplete, got.Lifecycle.Event)
		assert.Equal(t, "hello", got.Lifecycle.Data.Output["content"])
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle event not delivered")
	}

	// Publish failures are swallowed.
	failing := &failingPublisher{}
	eventbus.NewLifecycleForwarder(failing, logger, "").Emit(ctx, events.LifecycleEvent{Event: events.Done})
	assert.Equal(t, 1, failing.calls)
}
