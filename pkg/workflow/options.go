package workflow

import (
	"time"

	"github.com/dukex/stepflow/pkg/events"
	"go.opentelemetry.io/otel/trace"
)

type options struct {
	concurrency int
	timeout     time.Duration
	sink        events.Sink
	tracer      trace.Tracer
	executionID string
}

// Option configures an Executor or a single execution.
type Option func(*options)

// WithConcurrency lets up to n independent ready steps run at once. The
// default of 1 runs steps strictly one after another in compiled order.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = max(n, 1)
	}
}

// WithTimeout bounds the whole execution.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithSink forwards lifecycle events to sink.
func WithSink(sink events.Sink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

func WithExecutionID(id string) Option {
	return func(o *options) {
		o.executionID = id
	}
}
