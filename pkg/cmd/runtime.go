package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

// Engine is a registry plus an executor configured from EngineFlags.
type Engine struct {
	Registry *registry.Registry
	Executor *workflow.Executor

	closers []func(context.Context) error
}

// NewEngine builds the engine from the EngineFlags values of command.
func NewEngine(ctx context.Context, command *cli.Command, logger *slog.Logger, serviceName string) (*Engine, error) {
	engine := &Engine{}

	store, closeStore, err := NewTableStore(ctx, logger, command.String("table-store"))
	if err != nil {
		return nil, err
	}

	engine.closers = append(engine.closers, func(context.Context) error { return closeStore() })

	reg, err := NewRegistry(ctx, logger, RegistryConfig{
		CatalogPath:   command.String("catalog"),
		ActionsURL:    command.String("actions-url"),
		ActionsAPIKey: command.String("actions-api-key"),
		PluginsPath:   command.String("plugins-path"),
		TableStore:    store,
	})
	if err != nil {
		engine.Close(ctx, logger)

		return nil, err
	}

	tracer, shutdown, err := NewTracer(ctx, command.Bool("otel"), serviceName)
	if err != nil {
		engine.Close(ctx, logger)

		return nil, err
	}

	engine.closers = append(engine.closers, shutdown)
	engine.Registry = reg
	engine.Executor = workflow.NewExecutor(reg, logger,
		workflow.WithConcurrency(command.Int("concurrency")),
		workflow.WithTimeout(command.Duration("timeout")),
		workflow.WithTracer(tracer),
	)

	return engine, nil
}

// Close releases the engine's resources in reverse order of creation.
func (e *Engine) Close(ctx context.Context, logger *slog.Logger) {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to release engine resource", "error", err)
		}
	}
}

// Service is everything a long running command needs.
type Service struct {
	*Engine

	Persistence persistence.Persistence
	EventBus    eventbus.EventBus // nil when no bus is configured
	Workflows   *services.Workflow
	Executions  *services.Execution
}

// NewService builds the engine, the persistence and the event bus from the
// EngineFlags and ServiceFlags values of command.
func NewService(ctx context.Context, command *cli.Command, logger *slog.Logger, serviceName string) (*Service, error) {
	engine, err := NewEngine(ctx, command, logger, serviceName)
	if err != nil {
		return nil, err
	}

	store, err := NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		engine.Close(ctx, logger)

		return nil, err
	}

	engine.closers = append(engine.closers, store.Close)

	bus, err := NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), serviceName, logger)
	if err != nil {
		engine.Close(ctx, logger)

		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	if bus != nil {
		engine.closers = append(engine.closers, func(context.Context) error { return bus.Close() })
	}

	var recorder persistence.ExecutionRepository
	if command.Bool("record-executions") {
		recorder = store
	}

	catalog := engine.Registry.Catalog()

	return &Service{
		Engine:      engine,
		Persistence: store,
		EventBus:    bus,
		Workflows:   services.NewWorkflow(store, catalog, logger),
		Executions:  services.NewExecution(store, recorder, catalog, engine.Executor, logger),
	}, nil
}
