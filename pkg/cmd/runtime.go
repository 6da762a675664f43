package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/stepflow/pkg/engine"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/web"
	"go.opentelemetry.io/otel/trace"
)

// RuntimeOptions collects the connection settings shared by the stepflow binaries.
type RuntimeOptions struct {
	ServiceName     string
	DatabaseURL     string
	TimeoutStoreURL string
	SinkDatabaseURL string
	EventBus        string
	KafkaBrokers    string
	PluginsPath     string
	MaxChainDepth   int
	Tracer          trace.Tracer
	// RelayEmail is set when this process registers the email relay on its own bus.
	RelayEmail bool
}

// emailRelayed reports whether an email published on the bus reaches a relay: Kafka
// delivers to the scheduler's consumer group, the in-process channel only to a relay
// registered in the same process.
func (o RuntimeOptions) emailRelayed() bool {
	return o.EventBus == "kafka" || o.RelayEmail
}

// Runtime is a fully wired workflow engine with the backends it runs on.
type Runtime struct {
	Engine      *engine.Engine
	Persistence persistence.Persistence
	Timeouts    persistence.TimeoutRepository
	EventBus    eventbus.EventBus
	Registry    *registry.Registry
	Sinks       *Sinks

	logger  *slog.Logger
	closers []func(ctx context.Context) error
}

// NewRuntime connects every backend named in opts and builds the engine on top.
// Backends opened before a failure are closed again.
func NewRuntime(ctx context.Context, logger *slog.Logger, opts RuntimeOptions) (*Runtime, error) {
	rt := &Runtime{logger: logger}

	if err := rt.open(ctx, opts); err != nil {
		rt.Close(ctx)

		return nil, err
	}

	rt.Engine = engine.New(engine.Config{
		Persistence:   rt.Persistence,
		Timeouts:      rt.Timeouts,
		Actions:       rt.Registry,
		Notifications: rt.Sinks.Notifications,
		Publisher:     rt.EventBus,
		Logger:        logger,
		Tracer:        opts.Tracer,
		MaxChainDepth: opts.MaxChainDepth,
	})

	return rt, nil
}

func (rt *Runtime) open(ctx context.Context, opts RuntimeOptions) error {
	p, err := NewPersistence(ctx, rt.logger, opts.DatabaseURL)
	if err != nil {
		return err
	}

	rt.Persistence = p
	rt.Timeouts = p.TimeoutRepository()
	rt.closers = append(rt.closers, p.Close)

	timeoutStore, err := NewTimeoutStore(ctx, rt.logger, opts.TimeoutStoreURL)
	if err != nil {
		return err
	}

	if timeoutStore != nil {
		rt.Timeouts = timeoutStore
		rt.closers = append(rt.closers, func(context.Context) error { return timeoutStore.Close() })
	}

	eventBus, err := NewEventBus(opts.EventBus, opts.KafkaBrokers, opts.ServiceName, rt.logger)
	if err != nil {
		return err
	}

	rt.EventBus = eventBus
	rt.closers = append(rt.closers, func(context.Context) error { return eventBus.Close() })

	var emailBus eventbus.EventBus
	if opts.emailRelayed() {
		emailBus = eventBus
	}

	sinks, err := NewSinks(ctx, rt.logger, opts.SinkDatabaseURL, emailBus)
	if err != nil {
		return err
	}

	rt.Sinks = sinks
	rt.closers = append(rt.closers, func(context.Context) error { return sinks.Close() })

	reg, err := NewRegistry(rt.logger, sinks.Sinks, opts.PluginsPath)
	if err != nil {
		return err
	}

	rt.Registry = reg

	return nil
}

// HealthCheckers reports on the storage, the product database and the action registry.
func (rt *Runtime) HealthCheckers() map[string]web.HealthChecker {
	return map[string]web.HealthChecker{
		"persistence": func(ctx context.Context) (string, bool) {
			if err := rt.Persistence.HealthCheck(ctx); err != nil {
				return err.Error(), false
			}

			return "ok", true
		},
		"sinks": func(ctx context.Context) (string, bool) {
			if err := rt.Sinks.HealthCheck(ctx); err != nil {
				return err.Error(), false
			}

			return "ok", true
		},
		"registry": func(context.Context) (string, bool) {
			return rt.Registry.HealthCheck()
		},
	}
}

// Close releases the backends in reverse order of opening.
func (rt *Runtime) Close(ctx context.Context) {
	var errs []error

	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		rt.logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
	}
}
