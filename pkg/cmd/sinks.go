package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/sinks/bus"
	"github.com/dukex/stepflow/pkg/sinks/logsink"
	"github.com/dukex/stepflow/pkg/sinks/mysql"
)

// Sinks is the set of collaborators steps write to, with a close function for
// whatever connection backs them.
type Sinks struct {
	protocol.Sinks

	Close       func() error
	HealthCheck func(ctx context.Context) error
}

// NewSinks wires the product sinks. With a sinkDatabaseURL, status updates, tasks and
// notifications go to the product MySQL database; otherwise they are only logged.
// Email is requested over the bus when one is given, so pass a bus only when a relay
// consumes it; otherwise email is logged.
func NewSinks(ctx context.Context, logger *slog.Logger, sinkDatabaseURL string, publisher eventbus.EventBus) (*Sinks, error) {
	logged := logsink.New(logger)

	var email protocol.EmailSender = logged
	if publisher != nil {
		email = bus.NewEmailSender(publisher, publisher.GenerateID)
	}

	if sinkDatabaseURL == "" {
		sinks := logged.Sinks()
		sinks.Email = email

		return &Sinks{
			Sinks:       sinks,
			Close:       func() error { return nil },
			HealthCheck: func(context.Context) error { return nil },
		}, nil
	}

	db, err := mysql.NewSink(ctx, logger, sinkDatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect product database: %w", err)
	}

	return &Sinks{
		Sinks:       db.Sinks(email),
		Close:       db.Close,
		HealthCheck: db.HealthCheck,
	}, nil
}
