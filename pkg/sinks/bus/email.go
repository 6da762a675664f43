// Package bus hands outbound email to a delivery worker through the event bus.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

// EmailSender publishes one EmailRequested message per email.
type EmailSender struct {
	publisher eventbus.EventPublisher
	newID     func() string
}

func NewEmailSender(publisher eventbus.EventPublisher, newID func() string) *EmailSender {
	return &EmailSender{publisher: publisher, newID: newID}
}

func (s *EmailSender) SendEmail(ctx context.Context, email *models.Email) error {
	event := events.EmailRequested{
		BaseEvent: events.BaseEvent{
			ID:        s.newID(),
			Type:      events.EmailRequestedEvent,
			Timestamp: time.Now().UTC(),
			TenantID:  email.TenantID,
		},
		To:      email.To,
		Subject: email.Subject,
		Body:    email.Body,
	}

	if err := s.publisher.Publish(ctx, email.TenantID, event); err != nil {
		return fmt.Errorf("publish email request: %w", err)
	}

	return nil
}

// EmailRelay consumes EmailRequested messages and delivers them with an EmailSender.
type EmailRelay struct {
	sender protocol.EmailSender
	logger *slog.Logger
}

func NewEmailRelay(sender protocol.EmailSender, logger *slog.Logger) *EmailRelay {
	return &EmailRelay{sender: sender, logger: logger.With("module", "email_relay")}
}

// Register installs the relay handler on subscriber. Subscribe must still be called.
func (r *EmailRelay) Register(subscriber eventbus.EventSubscriber) error {
	return subscriber.Handle(events.EmailRequestedEvent, r.handle)
}

func (r *EmailRelay) handle(ctx context.Context, event any) error {
	request, ok := event.(*events.EmailRequested)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	if err := r.sender.SendEmail(ctx, request.Email()); err != nil {
		r.logger.ErrorContext(ctx, "failed to deliver email",
			"event_id", request.ID,
			"tenant_id", request.TenantID,
			"error", err,
		)

		return err
	}

	r.logger.DebugContext(ctx, "email delivered", "event_id", request.ID, "tenant_id", request.TenantID)

	return nil
}
