// Package sendemail provides the automation that emails a rendered message.
package sendemail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/interpolate"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

type Action struct {
	Recipient string
	Subject   string
	Body      string

	sender protocol.EmailSender
}

func NewAction(config map[string]any, sender protocol.EmailSender) *Action {
	recipient, _ := config["recipient"].(string)
	subject, _ := config["subject"].(string)
	body, _ := config["body"].(string)

	return &Action{
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		sender:    sender,
	}
}

func (a *Action) Execute(ctx context.Context, instance *models.WorkflowInstance, logger *slog.Logger) error {
	email := &models.Email{
		To:       a.Recipient,
		Subject:  interpolate.Render(a.Subject, instance.Context),
		Body:     interpolate.Render(a.Body, instance.Context),
		TenantID: instance.TenantID,
	}

	if err := a.sender.SendEmail(ctx, email); err != nil {
		return fmt.Errorf("send email to %q: %w", email.To, err)
	}

	logger.Info("Email sent", "action", "send_email", "to", email.To, "subject", email.Subject)

	return nil
}
