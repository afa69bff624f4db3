package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/scheduler"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

var errNothingToDo = errors.New("worker needs an event bus or at least one schedule")

func main() {
	command := &cli.Command{
		Name:                  "stepflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Run queued and scheduled workflow executions",
		Flags: slices.Concat(
			[]cli.Flag{
				&cli.StringFlag{
					Name:    "worker-id",
					Aliases: []string{"id"},
					Usage:   "Custom worker ID (auto-generated if not provided)",
					Sources: cli.EnvVars("WORKER_ID"),
				},
				&cli.StringSliceFlag{
					Name:    "schedule",
					Usage:   "Run a workflow on a cron schedule, as workflowId=expression (repeatable)",
					Sources: cli.EnvVars("SCHEDULES"),
				},
				cmd.LogLevelFlag(),
			},
			cmd.ServiceFlags(),
			cmd.EngineFlags(),
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("stepflow-worker").With("worker_id", workerID)

			schedules := make([]scheduler.Schedule, 0, len(command.StringSlice("schedule")))

			for _, spec := range command.StringSlice("schedule") {
				schedule, err := scheduler.ParseSchedule(spec)
				if err != nil {
					return err
				}

				schedules = append(schedules, schedule)
			}

			logger.InfoContext(ctx, "Initializing Stepflow Worker")

			service, err := cmd.NewService(ctx, command, logger, "stepflow-worker")
			if err != nil {
				return err
			}
			defer service.Close(ctx, logger)

			if service.EventBus == nil && len(schedules) == 0 {
				return errNothingToDo
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			worker := NewWorkerManager(workerID, service.Executions, service.EventBus, logger)

			if err := worker.Start(ctx, schedules); err != nil {
				return fmt.Errorf("failed to start worker: %w", err)
			}

			<-ctx.Done()

			logger.Info("Shutting down worker...")

			return worker.Stop(context.WithoutCancel(ctx))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("stepflow-worker").Error("Command failed", "error", err)
		os.Exit(1)
	}
}
