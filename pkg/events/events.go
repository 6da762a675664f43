// Package events defines the messages stepflow publishes on the event bus.
package events

import (
	"time"

	"github.com/dukex/stepflow/pkg/models"
)

type EventType string

// Topic carries every stepflow message.
const Topic = "stepflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"
const TenantMetadataKey = "tenant_id"

const (
	// Audit trail mirrors, one per models.EventType.
	WorkflowStartedEvent   EventType = "workflow.started"
	StepExecutedEvent      EventType = "workflow.step.executed"
	StepFailedEvent        EventType = "workflow.step.failed"
	StepApprovedEvent      EventType = "workflow.step.approved"
	StepRejectedEvent      EventType = "workflow.step.rejected"
	WorkflowCompletedEvent EventType = "workflow.completed"
	WorkflowFailedEvent    EventType = "workflow.failed"

	// Outbound email handed to the delivery worker.
	EmailRequestedEvent EventType = "email.requested"
)

var auditTypes = map[models.EventType]EventType{
	models.EventTypeStarted:      WorkflowStartedEvent,
	models.EventTypeStepExecuted: StepExecutedEvent,
	models.EventTypeStepFailed:   StepFailedEvent,
	models.EventTypeApproved:     StepApprovedEvent,
	models.EventTypeRejected:     StepRejectedEvent,
	models.EventTypeCompleted:    WorkflowCompletedEvent,
	models.EventTypeFailed:       WorkflowFailedEvent,
}

// IsAudit reports whether t mirrors an audit trail entry.
func IsAudit(t EventType) bool {
	for _, audit := range auditTypes {
		if audit == t {
			return true
		}
	}

	return false
}

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	TenantID  string    `json:"tenant_id"`
}

func (b BaseEvent) GetTenantID() string {
	return b.TenantID
}

// WorkflowAudit mirrors one persisted models.WorkflowEvent.
type WorkflowAudit struct {
	BaseEvent

	InstanceID  string `json:"instance_id"`
	Description string `json:"description"`
}

func (w WorkflowAudit) GetType() EventType {
	return w.Type
}

// NewWorkflowAudit converts an audit entry into its bus message.
func NewWorkflowAudit(event *models.WorkflowEvent) WorkflowAudit {
	return WorkflowAudit{
		BaseEvent: BaseEvent{
			ID:        event.ID,
			Type:      auditTypes[event.EventType],
			Timestamp: event.Timestamp,
			TenantID:  event.TenantID,
		},
		InstanceID:  event.InstanceID,
		Description: event.Description,
	}
}

type EmailRequested struct {
	BaseEvent

	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (e EmailRequested) GetType() EventType {
	return EmailRequestedEvent
}

// Email rebuilds the email the message was created from.
func (e EmailRequested) Email() *models.Email {
	return &models.Email{
		To:       e.To,
		Subject:  e.Subject,
		Body:     e.Body,
		TenantID: e.TenantID,
	}
}
