package cmd

import (
	"time"

	cli "github.com/urfave/cli/v3"
)

// LogLevelFlag is shared by every command.
func LogLevelFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		Value:   "info",
		Sources: cli.EnvVars("LOG_LEVEL"),
	}
}

// EngineFlags configure the connectors and the executor.
func EngineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "catalog",
			Usage:   "Path to a JSON catalog of remote actions",
			Sources: cli.EnvVars("CATALOG_PATH"),
		},
		&cli.StringFlag{
			Name:    "actions-url",
			Usage:   "Base URL of the actions service used by remote tool steps",
			Sources: cli.EnvVars("ACTIONS_URL"),
		},
		&cli.StringFlag{
			Name:    "actions-api-key",
			Usage:   "Bearer token for the actions service",
			Sources: cli.EnvVars("ACTIONS_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Path to the directory containing connector plugins",
			Value:   "./plugins",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
		&cli.StringFlag{
			Name:    "table-store",
			Usage:   "Store for table steps (memory, postgres://..., redis://...)",
			Value:   "memory",
			Sources: cli.EnvVars("TABLE_STORE_URL"),
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "Independent steps run at once (1 runs steps strictly in order)",
			Value:   1,
			Sources: cli.EnvVars("CONCURRENCY"),
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Usage:   "Overall execution timeout (0 disables it)",
			Value:   5 * time.Minute,
			Sources: cli.EnvVars("EXECUTION_TIMEOUT"),
		},
		&cli.BoolFlag{
			Name:    "otel",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	}
}

// ServiceFlags configure the long running services.
func ServiceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (file://... or postgres://...)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka); empty disables the bus",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.BoolFlag{
			Name:    "record-executions",
			Usage:   "Store execution results in the database",
			Value:   true,
			Sources: cli.EnvVars("RECORD_EXECUTIONS"),
		},
	}
}
