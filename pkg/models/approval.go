package models

import "time"

// ApprovalStatus is the decision state of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// TimeoutDecider is recorded as the rejecting party when an approval expires.
const TimeoutDecider = "system:timeout"

// WorkflowApproval tracks the human decision for one approval step entry.
type WorkflowApproval struct {
	ID         string         `json:"id"`
	InstanceID string         `json:"instanceId"`
	StepID     string         `json:"stepId"`
	Assignee   string         `json:"assignee,omitempty"`
	Status     ApprovalStatus `json:"status"`
	ApprovedBy string         `json:"approvedBy,omitempty"`
	ApprovedAt *time.Time     `json:"approvedAt,omitempty"`
	RejectedBy string         `json:"rejectedBy,omitempty"`
	RejectedAt *time.Time     `json:"rejectedAt,omitempty"`
	Comments   string         `json:"comments,omitempty"`
	TenantID   string         `json:"tenantId"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// ApprovalDecision is the single mutation allowed on a pending approval.
type ApprovalDecision struct {
	Status    ApprovalStatus
	DecidedBy string
	Comments  string
	DecidedAt time.Time
}

// Apply records the decision on the approval.
func (a *WorkflowApproval) Apply(d ApprovalDecision) {
	a.Status = d.Status
	a.Comments = d.Comments

	decidedAt := d.DecidedAt

	switch d.Status {
	case ApprovalStatusApproved:
		a.ApprovedBy = d.DecidedBy
		a.ApprovedAt = &decidedAt
	case ApprovalStatusRejected:
		a.RejectedBy = d.DecidedBy
		a.RejectedAt = &decidedAt
	}
}
