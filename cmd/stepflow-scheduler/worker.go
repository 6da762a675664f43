package main

import (
	"context"
	"log/slog"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/scheduler"
	"github.com/dukex/stepflow/pkg/sinks/bus"
	"github.com/dukex/stepflow/pkg/sinks/logsink"
)

// Worker polls due step timeouts and relays email requests until its context ends.
type Worker struct {
	logger    *slog.Logger
	runtime   *cmd.Runtime
	scheduler *scheduler.Scheduler
	relay     *bus.EmailRelay
}

func NewWorker(logger *slog.Logger, runtime *cmd.Runtime, opts scheduler.Options) *Worker {
	return &Worker{
		logger:    logger,
		runtime:   runtime,
		scheduler: scheduler.New(runtime.Timeouts, runtime.Engine, logger, opts),
		relay:     bus.NewEmailRelay(logsink.New(logger), logger),
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.scheduler.Validate(); err != nil {
		return err
	}

	if err := w.relay.Register(w.runtime.EventBus); err != nil {
		return err
	}

	if err := w.runtime.EventBus.Subscribe(ctx); err != nil {
		return err
	}

	if err := w.scheduler.Start(ctx); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Stepflow scheduler started")

	<-ctx.Done()

	return w.scheduler.Stop(context.WithoutCancel(ctx))
}
