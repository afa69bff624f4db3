package main

import (
	"context"
	"os"
	"slices"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "stepflow-api",
		Usage:                 "Store, compile and run workflows over HTTP",
		EnableShellCompletion: true,
		Flags: slices.Concat(
			[]cli.Flag{
				&cli.IntFlag{
					Name:    "port",
					Aliases: []string{"p"},
					Usage:   "Port to run the API server on",
					Value:   defaultPort,
					Sources: cli.EnvVars("PORT"),
				},
				cmd.LogLevelFlag(),
			},
			cmd.ServiceFlags(),
			cmd.EngineFlags(),
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("stepflow-api")

			logger.InfoContext(ctx, "Initializing Stepflow API")

			service, err := cmd.NewService(ctx, command, logger, "stepflow-api")
			if err != nil {
				return err
			}
			defer service.Close(ctx, logger)

			api := NewAPI(
				logger,
				service.Workflows,
				service.Executions,
				service.Registry,
				service.EventBus,
			)

			return api.Start(command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("stepflow-api").Error("Command failed", "error", err)
		os.Exit(1)
	}
}
