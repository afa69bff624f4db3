package web

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/events"
	"github.com/stretchr/testify/assert"
)

func TestEventStream_HandsOffWithoutBuffering(t *testing.T) {
	stream := newEventStream()
	assert.Equal(t, 0, cap(stream))

	emitted := make(chan struct{})

	go func() {
		defer close(emitted)

		events.ChannelSink(stream).Emit(context.Background(), events.LifecycleEvent{Event: events.StepStart})
	}()

	select {
	case <-emitted:
		t.Fatal("emit returned before the writer took the event")
	case <-time.After(50 * time.Millisecond):
	}

	event := <-stream
	assert.Equal(t, events.StepStart, event.Event)

	select {
	case <-emitted:
	case <-time.After(time.Second):
		t.Fatal("emit did not return after the event was taken")
	}
}
