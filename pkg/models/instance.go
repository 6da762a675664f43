package models

import "time"

// InstanceStatus represents the execution state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusActive    InstanceStatus = "active"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
	// InstanceStatusPaused is declared for compatibility with stored data; nothing transitions into it.
	InstanceStatusPaused InstanceStatus = "paused"
)

// Terminal reports whether no further transition is possible from s.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed
}

// WorkflowInstance is one execution of a template against a business entity.
type WorkflowInstance struct {
	ID            string         `json:"id"`
	TemplateID    string         `json:"templateId"`
	TemplateName  string         `json:"templateName,omitempty"`
	EntityType    string         `json:"entityType"`
	EntityID      string         `json:"entityId"`
	CurrentStep   string         `json:"currentStep"`
	Status        InstanceStatus `json:"status"`
	Context       map[string]any `json:"context"`
	AssignedTo    string         `json:"assignedTo,omitempty"`
	FailureReason string         `json:"failureReason,omitempty"`
	TenantID      string         `json:"tenantId"`
	StartedAt     time.Time      `json:"startedAt"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
}

// ContextValue returns the raw context value for key and whether it was present.
func (i *WorkflowInstance) ContextValue(key string) (any, bool) {
	if i.Context == nil {
		return nil, false
	}

	v, ok := i.Context[key]

	return v, ok
}
