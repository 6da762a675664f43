package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/scheduler"
	"github.com/dukex/stepflow/pkg/sinks/bus"
	"github.com/dukex/stepflow/pkg/sinks/logsink"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	flags := append([]cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.BoolFlag{
			Name:    "embedded-scheduler",
			Usage:   "Also expire approval timeouts and deliver emails from this process",
			Sources: cli.EnvVars("EMBEDDED_SCHEDULER"),
		},
		&cli.StringFlag{
			Name:    "poll-schedule",
			Usage:   "Cron schedule of the embedded timeout scheduler",
			Value:   scheduler.DefaultSchedule,
			Sources: cli.EnvVars("POLL_SCHEDULE"),
		},
	}, cmd.RuntimeFlags()...)

	command := &cli.Command{
		Name:                  "stepflow-api",
		Usage:                 "Define workflow templates, run workflow instances and decide approvals",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing Stepflow API")

			runtime, shutdown, err := cmd.RuntimeFromCommand(ctx, command, "stepflow-api", command.Bool("embedded-scheduler"), logger)
			if err != nil {
				return err
			}
			defer shutdown()

			if command.Bool("embedded-scheduler") {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()

				timeouts := scheduler.New(runtime.Timeouts, runtime.Engine, logger, scheduler.Options{
					Schedule: command.String("poll-schedule"),
				})
				if err := timeouts.Start(ctx); err != nil {
					return err
				}

				defer func() {
					if err := timeouts.Stop(context.WithoutCancel(ctx)); err != nil {
						logger.ErrorContext(ctx, "Failed to stop timeout scheduler", "error", err)
					}
				}()

				relay := bus.NewEmailRelay(logsink.New(logger), logger)
				if err := relay.Register(runtime.EventBus); err != nil {
					return err
				}

				if err := runtime.EventBus.Subscribe(ctx); err != nil {
					return err
				}
			}

			api := NewAPI(logger, runtime.Engine, runtime.HealthCheckers())
			app := api.App()

			go func() {
				signals := make(chan os.Signal, 1)
				signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
				<-signals

				logger.Info("Shutting down Stepflow API")

				if err := app.Shutdown(); err != nil {
					logger.Error("Failed to shutdown API", "error", err)
				}
			}()

			if err := listen(app, int(command.Int("port"))); err != nil {
				logger.ErrorContext(ctx, "Failed to start API", "error", err)

				return err
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
