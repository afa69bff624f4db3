// Package main provides the stepflow command line tool for working with
// workflow definition files without a server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/codegen"
	"github.com/dukex/stepflow/pkg/compiler"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

var errExecutionFailed = errors.New("execution did not complete")

func fileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "file",
		Aliases:  []string{"f"},
		Usage:    "Workflow definition file, JSON or YAML by extension (- reads JSON from stdin)",
		Required: true,
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  "stepflow",
		Usage:                 "Validate, compile, generate and run workflow definitions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			validateCommand(),
			compileCommand(),
			generateCommand(),
			runCommand(),
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check a definition and report the first graph or compile error",
		Flags: slices.Concat([]cli.Flag{fileFlag()}, cmd.EngineFlags()),
		Action: func(ctx context.Context, command *cli.Command) error {
			_, definition, err := compileFile(ctx, command)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(command.Root().Writer, "%s: ok (%d steps)\n", definition.ID, len(definition.Nodes))

			return err
		},
	}
}

type compiledStep struct {
	Index     int             `json:"index"`
	ID        string          `json:"id"`
	Type      models.StepType `json:"type"`
	DependsOn []string        `json:"depends_on,omitempty"`
}

func compileCommand() *cli.Command {
	return &cli.Command{
		Name:  "compile",
		Usage: "Print the compiled step order as JSON",
		Flags: slices.Concat([]cli.Flag{fileFlag()}, cmd.EngineFlags()),
		Action: func(ctx context.Context, command *cli.Command) error {
			pipeline, _, err := compileFile(ctx, command)
			if err != nil {
				return err
			}

			steps := make([]compiledStep, 0, pipeline.Len())

			for _, step := range pipeline.Steps {
				cs := compiledStep{Index: step.Index, ID: step.ID(), Type: step.Node.Type}
				for _, dep := range step.Dependencies {
					cs.DependsOn = append(cs.DependsOn, pipeline.Steps[dep].ID())
				}

				steps = append(steps, cs)
			}

			return writeJSON(command.Root().Writer, map[string]any{
				"workflow_id": pipeline.WorkflowID,
				"order":       pipeline.Order(),
				"steps":       steps,
			})
		},
	}
}

func generateCommand() *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Render the compiled pipeline as Go source",
		Flags: slices.Concat([]cli.Flag{
			fileFlag(),
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the source to this file instead of stdout",
			},
			&cli.BoolFlag{
				Name:  "no-header",
				Usage: "Omit the generated-at header so output is byte-identical across runs",
			},
		}, cmd.EngineFlags()),
		Action: func(ctx context.Context, command *cli.Command) error {
			pipeline, _, err := compileFile(ctx, command)
			if err != nil {
				return err
			}

			var source string
			if command.Bool("no-header") {
				source, err = codegen.GenerateBody(pipeline)
			} else {
				source, err = codegen.Generate(pipeline, time.Now())
			}

			if err != nil {
				return err
			}

			if output := command.String("output"); output != "" {
				return os.WriteFile(output, []byte(source), 0o644)
			}

			_, err = io.WriteString(command.Root().Writer, source)

			return err
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute a definition locally and print the result as JSON",
		Flags: slices.Concat([]cli.Flag{
			fileFlag(),
			&cli.StringFlag{
				Name:  "inputs",
				Usage: "Global inputs as a JSON object",
				Value: "{}",
			},
			&cli.StringSliceFlag{
				Name:  "connection",
				Usage: "Bind a toolkit to a connection, as toolkit=connectionId (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:  "table",
				Usage: "Bind a logical table to a table id, as name=tableId (repeatable)",
			},
			&cli.StringFlag{
				Name:  "resource-id",
				Usage: "Resource the execution runs on behalf of",
			},
			&cli.BoolFlag{
				Name:  "events",
				Usage: "Write lifecycle events to stderr as JSON lines",
			},
		}, cmd.EngineFlags()),
		Action: runAction,
	}
}

func runAction(ctx context.Context, command *cli.Command) error {
	logger := log.WithModule("stepflow")

	definition, err := readDefinition(command)
	if err != nil {
		return err
	}

	var inputs map[string]any
	if err := json.Unmarshal([]byte(command.String("inputs")), &inputs); err != nil {
		return fmt.Errorf("parsing --inputs: %w", err)
	}

	connections, err := parseBindings(command.StringSlice("connection"))
	if err != nil {
		return fmt.Errorf("parsing --connection: %w", err)
	}

	tables, err := parseBindings(command.StringSlice("table"))
	if err != nil {
		return fmt.Errorf("parsing --table: %w", err)
	}

	engine, err := cmd.NewEngine(ctx, command, logger, "stepflow")
	if err != nil {
		return err
	}
	defer engine.Close(ctx, logger)

	sink := events.Discard
	if command.Bool("events") {
		sink = jsonLinesSink(command.Root().ErrWriter)
	}

	executions := services.NewExecution(singleDefinition{definition}, nil, engine.Registry.Catalog(), engine.Executor, logger)

	result, err := executions.Execute(ctx, models.ExecutionRequest{
		WorkflowID:         definition.ID,
		Inputs:             inputs,
		ConnectionBindings: connections,
		TableBindings:      tables,
		ResourceID:         command.String("resource-id"),
	}, workflow.WithSink(sink))
	if err != nil {
		return err
	}

	if err := writeJSON(command.Root().Writer, result); err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("%w: %s", errExecutionFailed, result.State)
	}

	return nil
}

// compileFile reads, validates and compiles the --file definition against the
// catalog named by the engine flags.
func compileFile(ctx context.Context, command *cli.Command) (*compiler.CompiledPipeline, *models.WorkflowDefinition, error) {
	logger := log.WithModule("stepflow")

	definition, err := readDefinition(command)
	if err != nil {
		return nil, nil, err
	}

	reg, err := cmd.NewRegistry(ctx, logger, cmd.RegistryConfig{CatalogPath: command.String("catalog")})
	if err != nil {
		return nil, nil, err
	}

	pipeline, err := services.NewWorkflow(nil, reg.Catalog(), logger).CompileDefinition(definition)
	if err != nil {
		return nil, nil, err
	}

	return pipeline, definition, nil
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(value)
}

func jsonLinesSink(w io.Writer) events.Sink {
	encoder := json.NewEncoder(w)

	return events.SinkFunc(func(_ context.Context, event events.LifecycleEvent) {
		_ = encoder.Encode(event)
	})
}
