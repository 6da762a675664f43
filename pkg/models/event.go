package models

import "time"

// EventType classifies audit trail entries.
type EventType string

const (
	EventTypeStarted      EventType = "started"
	EventTypeStepExecuted EventType = "step_executed"
	EventTypeStepFailed   EventType = "step_failed"
	EventTypeApproved     EventType = "approved"
	EventTypeRejected     EventType = "rejected"
	EventTypeCompleted    EventType = "completed"
	EventTypeFailed       EventType = "failed"
)

// WorkflowEvent is an append-only audit entry. It is never updated or deleted.
type WorkflowEvent struct {
	ID          string    `json:"id"`
	InstanceID  string    `json:"instanceId"`
	EventType   EventType `json:"eventType"`
	Description string    `json:"description"`
	TenantID    string    `json:"tenantId"`
	Timestamp   time.Time `json:"timestamp"`
}
