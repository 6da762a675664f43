package models

import "time"

// StepTimeout is a persisted deadline for a pending approval step.
// There is at most one per (tenant, instance, step); scheduling again replaces it.
type StepTimeout struct {
	TenantID   string    `json:"tenantId"`
	InstanceID string    `json:"instanceId"`
	StepID     string    `json:"stepId"`
	DueAt      time.Time `json:"dueAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Key identifies the timeout by the approval it guards.
func (t *StepTimeout) Key() string {
	return TimeoutKey(t.TenantID, t.InstanceID, t.StepID)
}

// IsDue reports whether the deadline has passed at now.
func (t *StepTimeout) IsDue(now time.Time) bool {
	return !t.DueAt.After(now)
}

// TimeoutKey builds the identity of a step timeout.
func TimeoutKey(tenantID, instanceID, stepID string) string {
	return tenantID + ":" + instanceID + ":" + stepID
}
