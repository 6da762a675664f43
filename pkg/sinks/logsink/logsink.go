// Package logsink implements every collaborator sink by writing to the log.
// It is the default when no product database is configured.
package logsink

import (
	"context"
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

type Sink struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Sink {
	return &Sink{logger: logger.With("module", "logsink")}
}

// Sinks returns a bundle where every collaborator is s.
func (s *Sink) Sinks() protocol.Sinks {
	return protocol.Sinks{
		Status:        s,
		Notifications: s,
		Email:         s,
		Tasks:         s,
	}
}

func (s *Sink) UpdateEntityStatus(ctx context.Context, entityType, entityID, newStatus, tenantID string) error {
	s.logger.InfoContext(ctx, "entity status updated",
		"entity_type", entityType,
		"entity_id", entityID,
		"status", newStatus,
		"tenant_id", tenantID,
	)

	return nil
}

func (s *Sink) CreateNotification(ctx context.Context, notification *models.Notification) error {
	s.logger.InfoContext(ctx, "notification created",
		"notification_id", notification.ID,
		"type", notification.Type,
		"title", notification.Title,
		"recipient", notification.Recipient,
		"tenant_id", notification.TenantID,
	)

	return nil
}

func (s *Sink) SendEmail(ctx context.Context, email *models.Email) error {
	s.logger.InfoContext(ctx, "sending email",
		"to", email.To,
		"subject", email.Subject,
		"tenant_id", email.TenantID,
	)

	return nil
}

func (s *Sink) CreateTask(ctx context.Context, task *models.Task) error {
	s.logger.InfoContext(ctx, "task created",
		"task_id", task.ID,
		"title", task.Title,
		"project_id", task.ProjectID,
		"assignee", task.Assignee,
		"priority", task.Priority,
		"tenant_id", task.TenantID,
	)

	return nil
}
