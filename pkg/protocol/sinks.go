package protocol

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
)

// EntityStatusUpdater writes a new status onto a business entity.
// Unknown entity types are ignored without error.
type EntityStatusUpdater interface {
	UpdateEntityStatus(ctx context.Context, entityType, entityID, newStatus, tenantID string) error
}

// NotificationSink delivers in-app notifications.
type NotificationSink interface {
	CreateNotification(ctx context.Context, notification *models.Notification) error
}

// EmailSender delivers outbound email.
type EmailSender interface {
	SendEmail(ctx context.Context, email *models.Email) error
}

// TaskSink creates tasks in the product.
type TaskSink interface {
	CreateTask(ctx context.Context, task *models.Task) error
}

// Sinks bundles the collaborators steps and actions write to.
type Sinks struct {
	Status        EntityStatusUpdater
	Notifications NotificationSink
	Email         EmailSender
	Tasks         TaskSink
}
