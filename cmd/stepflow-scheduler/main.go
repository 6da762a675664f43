// Package main provides the Stepflow scheduler, which expires overdue approvals and
// delivers the emails requested by automation steps.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

func main() {
	flags := append([]cli.Flag{
		&cli.StringFlag{
			Name:    "poll-schedule",
			Usage:   "Cron schedule of the timeout poll",
			Value:   scheduler.DefaultSchedule,
			Sources: cli.EnvVars("POLL_SCHEDULE"),
		},
		&cli.IntFlag{
			Name:    "batch-size",
			Usage:   "Maximum timeouts handled per poll",
			Value:   100,
			Sources: cli.EnvVars("BATCH_SIZE"),
		},
	}, cmd.RuntimeFlags()...)

	command := &cli.Command{
		Name:                  "stepflow-scheduler",
		Usage:                 "Expire overdue approval steps and deliver workflow emails",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("stepflow-scheduler")

			logger.InfoContext(ctx, "Initializing Stepflow scheduler")

			runtime, shutdown, err := cmd.RuntimeFromCommand(ctx, command, "stepflow-scheduler", true, logger)
			if err != nil {
				return err
			}
			defer shutdown()

			worker := NewWorker(logger, runtime, scheduler.Options{
				Schedule:  command.String("poll-schedule"),
				BatchSize: int(command.Int("batch-size")),
			})

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			go func() {
				signals := make(chan os.Signal, 1)
				signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
				<-signals

				logger.Info("Shutting down Stepflow scheduler")
				cancel()
			}()

			return worker.Run(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
