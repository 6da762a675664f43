package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/engine"
	"github.com/dukex/stepflow/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

// RuntimeFlags are the flags every stepflow binary accepts to reach its backends.
func RuntimeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (file:// or postgres://)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "timeout-store-url",
			Usage:   "Redis URL for step timeouts; defaults to the persistence database",
			Sources: cli.EnvVars("TIMEOUT_STORE_URL"),
		},
		&cli.StringFlag{
			Name:    "sink-database-url",
			Usage:   "MySQL DSN of the product database receiving status updates, tasks and notifications",
			Sources: cli.EnvVars("SINK_DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Path to the directory containing action plugins",
			Value:   "./plugins",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
		&cli.IntFlag{
			Name:    "max-chain-depth",
			Usage:   "Maximum number of steps run in one chain before the workflow fails",
			Value:   engine.DefaultMaxChainDepth,
			Sources: cli.EnvVars("MAX_CHAIN_DEPTH"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

// RuntimeFromCommand builds the runtime described by RuntimeFlags. relayEmail tells
// whether the caller registers the email relay on the runtime's bus. The returned
// shutdown closes the runtime and flushes traces.
func RuntimeFromCommand(ctx context.Context, command *cli.Command, serviceName string, relayEmail bool, logger *slog.Logger) (*Runtime, func(), error) {
	opts := RuntimeOptions{
		RelayEmail:      relayEmail,
		ServiceName:     serviceName,
		DatabaseURL:     command.String("database-url"),
		TimeoutStoreURL: command.String("timeout-store-url"),
		SinkDatabaseURL: command.String("sink-database-url"),
		EventBus:        command.String("event-bus"),
		KafkaBrokers:    command.String("kafka-brokers"),
		PluginsPath:     command.String("plugins-path"),
		MaxChainDepth:   int(command.Int("max-chain-depth")),
	}

	flushTraces := func(context.Context) error { return nil }

	if command.Bool("tracing") {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		opts.Tracer = tracer
		flushTraces = shutdown
	}

	rt, err := NewRuntime(ctx, logger, opts)
	if err != nil {
		_ = flushTraces(ctx)

		return nil, nil, err
	}

	return rt, func() {
		rt.Close(ctx)

		if err := flushTraces(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}, nil
}
