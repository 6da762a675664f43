// Package persistence provides the storage abstraction for workflow templates, instances,
// approvals, audit events and step timeouts.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/stepflow/pkg/models"
)

// Persistence groups the repositories of one storage backend.
type Persistence interface {
	TemplateRepository() TemplateRepository
	InstanceRepository() InstanceRepository
	ApprovalRepository() ApprovalRepository
	EventRepository() EventRepository
	TimeoutRepository() TimeoutRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// TemplateRepository stores workflow templates. Templates are never updated after creation.
type TemplateRepository interface {
	SaveTemplate(ctx context.Context, template *models.WorkflowTemplate) error
	// TemplateByID returns ErrTemplateNotFound when no template with id exists for the tenant.
	TemplateByID(ctx context.Context, tenantID, id string) (*models.WorkflowTemplate, error)
	Templates(ctx context.Context, tenantID string) ([]*models.WorkflowTemplate, error)
}

// InstanceFilter narrows an instance listing. Zero values match everything.
type InstanceFilter struct {
	Status     models.InstanceStatus
	EntityType string
	Limit      int
}

// InstanceGuard is the precondition of a transition: the stored instance must be
// active and positioned at CurrentStep.
type InstanceGuard struct {
	CurrentStep string
}

// InstanceChange describes a transition. Empty fields are left untouched.
type InstanceChange struct {
	CurrentStep   string
	Status        models.InstanceStatus
	FailureReason string
	CompletedAt   *time.Time
}

// Apply writes the change onto instance.
func (c InstanceChange) Apply(instance *models.WorkflowInstance) {
	if c.CurrentStep != "" {
		instance.CurrentStep = c.CurrentStep
	}

	if c.Status != "" {
		instance.Status = c.Status
	}

	if c.FailureReason != "" {
		instance.FailureReason = c.FailureReason
	}

	if c.CompletedAt != nil {
		completedAt := *c.CompletedAt
		instance.CompletedAt = &completedAt
	}
}

// Matches reports whether instance satisfies the guard.
func (g InstanceGuard) Matches(instance *models.WorkflowInstance) bool {
	return instance.Status == models.InstanceStatusActive && instance.CurrentStep == g.CurrentStep
}

// InstanceRepository stores workflow instances. Every mutation after creation goes
// through TransitionInstance so that concurrent writers cannot both succeed.
type InstanceRepository interface {
	CreateInstance(ctx context.Context, instance *models.WorkflowInstance) error
	// InstanceByID returns ErrInstanceNotFound when the instance does not exist for the tenant.
	InstanceByID(ctx context.Context, tenantID, id string) (*models.WorkflowInstance, error)
	// Instances lists the tenant's instances, newest first, with the template name filled in.
	Instances(ctx context.Context, tenantID string, filter InstanceFilter) ([]*models.WorkflowInstance, error)
	// TransitionInstance applies change only if guard holds, returning the updated instance.
	// It returns ErrInstanceConflict when the guard does not hold.
	TransitionInstance(ctx context.Context, tenantID, id string, guard InstanceGuard, change InstanceChange) (*models.WorkflowInstance, error)
}

// ApprovalRepository stores approval requests.
type ApprovalRepository interface {
	CreateApproval(ctx context.Context, approval *models.WorkflowApproval) error
	// DecideApproval records decision on the pending approval of the step.
	// It returns ErrApprovalNotFound when the step never had an approval and
	// ErrApprovalNotPending when it was already decided.
	DecideApproval(ctx context.Context, tenantID, instanceID, stepID string, decision models.ApprovalDecision) (*models.WorkflowApproval, error)
	ApprovalsByInstance(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowApproval, error)
	// PendingApprovals lists pending approvals of the tenant, oldest first. An empty
	// assignee matches every approval.
	PendingApprovals(ctx context.Context, tenantID, assignee string) ([]*models.WorkflowApproval, error)
}

// EventRepository is the append-only audit trail.
type EventRepository interface {
	AppendEvent(ctx context.Context, event *models.WorkflowEvent) error
	// EventsByInstance returns the events of an instance in the order they were appended.
	EventsByInstance(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowEvent, error)
}

// DefaultTimeoutBatch bounds DueTimeouts when no positive limit is given.
const DefaultTimeoutBatch = 100

// TimeoutRepository stores step deadlines for pending approvals.
type TimeoutRepository interface {
	// ScheduleTimeout inserts or replaces the timeout of (tenant, instance, step).
	ScheduleTimeout(ctx context.Context, timeout *models.StepTimeout) error
	// CancelTimeout removes the timeout. Cancelling an absent timeout is not an error.
	CancelTimeout(ctx context.Context, tenantID, instanceID, stepID string) error
	// DueTimeouts returns up to limit timeouts due at or before now, earliest first.
	DueTimeouts(ctx context.Context, now time.Time, limit int) ([]*models.StepTimeout, error)
}
