// Package workflow runs compiled pipelines against a runtime context.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/stepflow/pkg/compiler"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// ConnectorResolver finds the connector for a step. *registry.Registry implements it.
type ConnectorResolver interface {
	ResolveNode(node *models.StepNode) (protocol.Connector, error)
}

// Executor runs compiled pipelines. It holds no per-execution state and may
// be shared by concurrent executions.
type Executor struct {
	resolver ConnectorResolver
	logger   *slog.Logger
	defaults []Option
}

func NewExecutor(resolver ConnectorResolver, logger *slog.Logger, defaults ...Option) *Executor {
	return &Executor{
		resolver: resolver,
		logger:   logger.With("module", "executor"),
		defaults: defaults,
	}
}

// Execute runs pipeline to a terminal state and returns its result. Steps are
// dispatched once all their dependencies succeeded; the first failure halts
// further dispatch. Options given here override the executor's defaults.
func (e *Executor) Execute(
	ctx context.Context,
	pipeline *compiler.CompiledPipeline,
	rctx *models.RuntimeContext,
	opts ...Option,
) *models.ExecutionResult {
	o := options{
		concurrency: 1,
		sink:        events.Discard,
		tracer:      otelhelper.NoopTracer(),
	}

	for _, opt := range slices.Concat(e.defaults, opts) {
		opt(&o)
	}

	if o.executionID == "" {
		o.executionID = uuid.New().String()
	}

	if o.sink == nil {
		o.sink = events.Discard
	}

	if rctx == nil {
		rctx = &models.RuntimeContext{}
	}

	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, pipeline.WorkflowID),
		attribute.String(otelhelper.WorkflowNameKey, pipeline.WorkflowName),
		attribute.Int(otelhelper.WorkflowVersionKey, pipeline.Version),
		attribute.String(otelhelper.ExecutionIDKey, o.executionID),
	)
	defer span.End()

	run := &execution{
		pipeline: pipeline,
		rctx:     rctx,
		opts:     o,
		emitCtx:  ctx,
		logger:   e.logger.With("workflow_id", pipeline.WorkflowID, "execution_id", o.executionID),
		outputs:  make([]map[string]any, pipeline.Len()),
		results:  make([]*models.StepResult, pipeline.Len()),
		state:    models.PipelineStatePending,
	}

	result := run.run(ctx, e.resolver)

	span.SetAttributes(attribute.String(otelhelper.ExecutionStateKey, string(result.State)))

	if result.Err != nil {
		otelhelper.SetError(span, result.Err)
	}

	return result
}

// execution is the state of one run. Only the dispatching goroutine touches
// it; step goroutines report back through the completion channel.
type execution struct {
	pipeline   *compiler.CompiledPipeline
	rctx       *models.RuntimeContext
	opts       options
	emitCtx    context.Context
	logger     *slog.Logger
	connectors []protocol.Connector
	outputs    []map[string]any // Append-only, indexed by compiled step index
	results    []*models.StepResult
	state      models.PipelineState
	failure    error
}

type completion struct {
	index    int
	output   map[string]any
	err      error
	timedOut bool
	endedAt  time.Time
}

func (x *execution) run(ctx context.Context, resolver ConnectorResolver) *models.ExecutionResult {
	x.state = models.PipelineStateRunning
	x.logger.InfoContext(ctx, "Execution started", "steps", x.pipeline.Len(), "concurrency", x.opts.concurrency)

	if err := x.resolveConnectors(resolver); err != nil {
		x.failure = err

		return x.finish(ctx)
	}

	execCtx := ctx

	if x.opts.timeout > 0 {
		var cancel context.CancelFunc

		execCtx, cancel = context.WithTimeout(ctx, x.opts.timeout)
		defer cancel()
	}

	x.dispatch(execCtx)

	return x.finish(ctx)
}

func (x *execution) resolveConnectors(resolver ConnectorResolver) error {
	x.connectors = make([]protocol.Connector, x.pipeline.Len())

	for i, step := range x.pipeline.Steps {
		connector, err := resolver.ResolveNode(step.Node)
		if err != nil {
			return &StepError{StepID: step.ID(), Err: err}
		}

		x.connectors[i] = connector
	}

	return nil
}

func (x *execution) dispatch(ctx context.Context) {
	stepsCtx, cancelSteps := context.WithCancel(ctx)
	defer cancelSteps()

	steps := x.pipeline.Steps
	waiting := make([]int, len(steps))
	dependents := make([][]int, len(steps))

	var ready []int

	for i, step := range steps {
		waiting[i] = len(step.Dependencies)

		for _, dep := range step.Dependencies {
			dependents[dep] = append(dependents[dep], i)
		}

		if waiting[i] == 0 {
			ready = append(ready, i)
		}
	}

	completions := make(chan completion, len(steps))
	group := new(errgroup.Group)
	group.SetLimit(x.opts.concurrency)

	inFlight := 0

	for {
		for x.failure == nil && len(ready) > 0 && inFlight < x.opts.concurrency {
			if ctx.Err() != nil {
				_, x.failure = x.interruption(ctx)

				break
			}

			index := ready[0]
			ready = ready[1:]

			if x.start(stepsCtx, group, index, completions) {
				inFlight++
			}
		}

		if inFlight == 0 {
			break
		}

		c := <-completions
		inFlight--

		if err := x.complete(ctx, c); err != nil {
			if x.failure == nil {
				x.failure = err

				cancelSteps()
			}

			continue
		}

		for _, next := range dependents[c.index] {
			waiting[next]--

			if waiting[next] == 0 {
				pos, _ := slices.BinarySearch(ready, next)
				ready = slices.Insert(ready, pos, next)
			}
		}
	}

	_ = group.Wait()
}

// start emits step_start, builds the step input and hands the step to a
// goroutine. It reports false when the step failed before dispatch.
func (x *execution) start(ctx context.Context, group *errgroup.Group, index int, completions chan<- completion) bool {
	step := x.pipeline.Steps[index]
	x.results[index] = &models.StepResult{
		StepID:    step.ID(),
		Status:    models.StepStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	input, err := step.Mapper.Build(x.outputs, x.rctx.Inputs)

	x.emit(events.StepStart, index, input, "")
	x.logger.InfoContext(ctx, "Step started", "step_id", step.ID(), "step_type", step.Node.Type, "index", index)

	if err != nil {
		x.failure = &StepError{StepID: step.ID(), Err: err}
		x.fail(index, models.StepStatusError, x.failure)

		return false
	}

	connector := x.connectors[index]

	group.Go(func() error {
		completions <- x.call(ctx, step, connector, input)

		return nil
	})

	return true
}

// call runs on its own goroutine. It reads only immutable execution fields.
func (x *execution) call(ctx context.Context, step *compiler.CompiledStep, connector protocol.Connector, input map[string]any) completion {
	c := completion{index: step.Index}

	stepCtx := ctx
	timeout := step.Node.StepTimeout()

	if timeout > 0 {
		var cancel context.CancelFunc

		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stepCtx, span := otelhelper.StartSpan(stepCtx, x.opts.tracer, "step.execute",
		attribute.String(otelhelper.StepIDKey, step.ID()),
		attribute.String(otelhelper.StepNameKey, step.Node.Name),
		attribute.String(otelhelper.StepTypeKey, string(step.Node.Type)),
		attribute.Int(otelhelper.StepIndexKey, step.Index),
		attribute.String(otelhelper.ToolkitSlugKey, step.Node.ToolkitSlug),
		attribute.String(otelhelper.ActionIDKey, step.Node.ActionID),
	)
	defer span.End()

	done := make(chan completion, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- completion{err: fmt.Errorf("connector panic: %v", r)}
			}
		}()

		output, err := connector.Execute(stepCtx, step.Node, input, x.rctx)
		done <- completion{output: output, err: err}
	}()

	select {
	case r := <-done:
		c.output, c.err = r.output, r.err
	case <-stepCtx.Done():
		select {
		case r := <-done:
			c.output, c.err = r.output, r.err
		default:
			c.err = stepCtx.Err()
		}
	}

	c.endedAt = time.Now().UTC()
	c.timedOut = timeout > 0 && ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded)

	if c.err != nil {
		otelhelper.SetError(span, c.err, attribute.String(otelhelper.StepIDKey, step.ID()))
	}

	return c
}

func (x *execution) complete(ctx context.Context, c completion) error {
	step := x.pipeline.Steps[c.index]
	result := x.results[c.index]
	result.EndedAt = c.endedAt

	if c.err == nil {
		output := c.output
		if output == nil {
			output = map[string]any{}
		}

		x.outputs[c.index] = output
		result.Status = models.StepStatusSuccess
		result.Output = output

		x.emit(events.StepComplete, c.index, nil, "")
		x.logger.InfoContext(ctx, "Step completed",
			"step_id", step.ID(),
			"duration", result.EndedAt.Sub(result.StartedAt),
		)

		return nil
	}

	status, err := x.classify(ctx, step, c)
	x.fail(c.index, status, err)

	return err
}

func (x *execution) classify(ctx context.Context, step *compiler.CompiledStep, c completion) (models.StepStatus, error) {
	switch {
	case x.failure != nil && errors.Is(c.err, context.Canceled):
		return models.StepStatusCancelled, &StepError{StepID: step.ID(), Err: c.err}
	case ctx.Err() != nil:
		return x.interruption(ctx)
	case c.timedOut:
		return models.StepStatusError, &TimeoutError{StepID: step.ID(), Timeout: step.Node.StepTimeout()}
	default:
		return models.StepStatusError, &StepError{StepID: step.ID(), Err: c.err}
	}
}

// interruption maps a done execution context to the executor error it stands for.
func (x *execution) interruption(ctx context.Context) (models.StepStatus, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.StepStatusError, &TimeoutError{Timeout: x.opts.timeout}
	}

	return models.StepStatusCancelled, &CancellationError{Cause: context.Cause(ctx)}
}

func (x *execution) fail(index int, status models.StepStatus, err error) {
	result := x.results[index]
	result.Status = status
	result.Error = err.Error()

	if result.EndedAt.IsZero() {
		result.EndedAt = time.Now().UTC()
	}

	x.emit(events.StepError, index, nil, result.Error)
	x.logger.ErrorContext(x.emitCtx, "Step failed", "step_id", result.StepID, "status", status, "error", err)
}

func (x *execution) finish(ctx context.Context) *models.ExecutionResult {
	result := &models.ExecutionResult{
		ExecutionID: x.opts.executionID,
		WorkflowID:  x.pipeline.WorkflowID,
		StepResults: make([]models.StepResult, 0, x.pipeline.Len()),
	}

	for _, stepResult := range x.results {
		if stepResult != nil {
			result.StepResults = append(result.StepResults, *stepResult)
		}
	}

	switch {
	case x.failure == nil:
		x.state = models.PipelineStateCompleted
		result.Success = true
		result.Output = x.output()
	case IsCancelled(x.failure):
		x.state = models.PipelineStateCancelled
	default:
		x.state = models.PipelineStateFailed
	}

	result.State = x.state

	if x.failure != nil {
		result.Error = x.failure.Error()
		result.Err = x.failure
	}

	x.opts.sink.Emit(x.emitCtx, events.LifecycleEvent{
		Event: events.Done,
		Data: events.LifecycleData{
			ExecutionID: x.opts.executionID,
			WorkflowID:  x.pipeline.WorkflowID,
			Error:       result.Error,
			Timestamp:   time.Now().UTC(),
			Result:      result,
		},
	})

	if x.failure != nil {
		x.logger.ErrorContext(ctx, "Execution finished", "state", x.state, "steps_run", len(result.StepResults), "error", x.failure)
	} else {
		x.logger.InfoContext(ctx, "Execution finished", "state", x.state, "steps_run", len(result.StepResults))
	}

	return result
}

// output is the single terminal step's output, or a map of terminal step id
// to output when the pipeline ends in several steps.
func (x *execution) output() any {
	terminal := x.pipeline.Terminal()

	switch len(terminal) {
	case 0:
		return nil
	case 1:
		return x.outputs[terminal[0].Index]
	}

	out := make(map[string]any, len(terminal))
	for _, step := range terminal {
		out[step.ID()] = x.outputs[step.Index]
	}

	return out
}

func (x *execution) emit(eventType events.LifecycleType, index int, input map[string]any, errMsg string) {
	result := x.results[index]

	x.opts.sink.Emit(x.emitCtx, events.LifecycleEvent{
		Event: eventType,
		Data: events.LifecycleData{
			ExecutionID: x.opts.executionID,
			WorkflowID:  x.pipeline.WorkflowID,
			StepID:      result.StepID,
			Status:      result.Status,
			Input:       input,
			Output:      result.Output,
			Error:       errMsg,
			Timestamp:   time.Now().UTC(),
		},
	})
}
