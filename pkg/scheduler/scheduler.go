// Package scheduler fires durable step timeouts. It polls the timeout store on a cron
// schedule and hands every due timeout to the engine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 30s"

// TimeoutHandler resolves one due timeout. It must remove the timeout record unless it
// returns an error, otherwise the timeout is handed over again on the next poll.
type TimeoutHandler interface {
	HandleStepTimeout(ctx context.Context, timeout *models.StepTimeout) error
}

type Options struct {
	// Schedule is a standard cron expression or descriptor such as "@every 30s".
	Schedule  string
	BatchSize int
	Clock     func() time.Time
}

type Scheduler struct {
	timeouts  persistence.TimeoutRepository
	handler   TimeoutHandler
	logger    *slog.Logger
	schedule  string
	batchSize int
	now       func() time.Time

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func New(timeouts persistence.TimeoutRepository, handler TimeoutHandler, logger *slog.Logger, opts Options) *Scheduler {
	schedule := opts.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = persistence.DefaultTimeoutBatch
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Scheduler{
		timeouts:  timeouts,
		handler:   handler,
		logger:    logger.With("module", "timeout_scheduler"),
		schedule:  schedule,
		batchSize: batchSize,
		now:       func() time.Time { return clock().UTC() },
	}
}

func (s *Scheduler) Validate() error {
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid poll schedule '%s': %w", s.schedule, err)
	}

	return nil
}

// Start polls on the schedule until Stop is called or ctx is done.
// Overlapping polls are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Validate(); err != nil {
		return err
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	logger := cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(
			cron.SkipIfStillRunning(logger),
			cron.Recover(logger),
		),
	)

	entryID, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Poll(s.ctx); err != nil {
			s.logger.Error("Timeout poll failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add poll job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Timeout scheduler started", "schedule", s.schedule, "entry_id", entryID)

	return nil
}

// Stop halts polling and waits for a running poll to finish or ctx to be done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("Stopping timeout scheduler")

	if s.cancel != nil {
		s.cancel()
	}

	if s.cron == nil {
		return nil
	}

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll hands every timeout due now, up to one batch, to the handler and returns how
// many were resolved. A failing timeout does not stop the batch; it stays stored and
// is retried on the next poll.
func (s *Scheduler) Poll(ctx context.Context) (int, error) {
	due, err := s.timeouts.DueTimeouts(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to load due timeouts: %w", err)
	}

	if len(due) == 0 {
		return 0, nil
	}

	s.logger.Debug("Processing due timeouts", "count", len(due))

	var (
		resolved int
		errs     []error
	)

	for _, timeout := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)

			break
		}

		if err := s.handler.HandleStepTimeout(ctx, timeout); err != nil {
			s.logger.Error("Failed to handle step timeout",
				"instance_id", timeout.InstanceID,
				"step_id", timeout.StepID,
				"tenant_id", timeout.TenantID,
				"error", err,
			)
			errs = append(errs, err)

			continue
		}

		resolved++
	}

	return resolved, errors.Join(errs...)
}

// cronLogger routes robfig/cron logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
