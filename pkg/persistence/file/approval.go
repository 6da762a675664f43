package file

import (
	"context"
	"sort"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// ApprovalRepository keeps the approvals of an instance in one file, in creation order.
type ApprovalRepository struct {
	store *store
}

func (r *ApprovalRepository) CreateApproval(_ context.Context, approval *models.WorkflowApproval) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	approvals, err := r.load(approval.TenantID, approval.InstanceID)
	if err != nil {
		return err
	}

	approvals = append(approvals, approval)

	return r.store.write(r.store.path("approvals", approval.TenantID, approval.InstanceID), approvals)
}

func (r *ApprovalRepository) DecideApproval(_ context.Context, tenantID, instanceID, stepID string, decision models.ApprovalDecision) (*models.WorkflowApproval, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	approvals, err := r.load(tenantID, instanceID)
	if err != nil {
		return nil, err
	}

	seen := false

	for _, approval := range approvals {
		if approval.StepID != stepID {
			continue
		}

		seen = true

		if approval.Status != models.ApprovalStatusPending {
			continue
		}

		approval.Apply(decision)

		if err := r.store.write(r.store.path("approvals", tenantID, instanceID), approvals); err != nil {
			return nil, err
		}

		return approval, nil
	}

	if seen {
		return nil, persistence.NewStepError("DecideApproval", tenantID, instanceID, stepID, persistence.ErrApprovalNotPending)
	}

	return nil, persistence.NewStepError("DecideApproval", tenantID, instanceID, stepID, persistence.ErrApprovalNotFound)
}

func (r *ApprovalRepository) ApprovalsByInstance(_ context.Context, tenantID, instanceID string) ([]*models.WorkflowApproval, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.load(tenantID, instanceID)
}

func (r *ApprovalRepository) PendingApprovals(_ context.Context, tenantID, assignee string) ([]*models.WorkflowApproval, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	files, err := r.store.files(r.store.dir("approvals", tenantID))
	if err != nil {
		return nil, err
	}

	pending := make([]*models.WorkflowApproval, 0)

	for _, f := range files {
		var approvals []*models.WorkflowApproval
		if _, err := r.store.read(f, &approvals); err != nil {
			return nil, err
		}

		for _, approval := range approvals {
			if approval.Status != models.ApprovalStatusPending {
				continue
			}

			if assignee != "" && approval.Assignee != assignee {
				continue
			}

			pending = append(pending, approval)
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	return pending, nil
}

// load must be called with the store lock held.
func (r *ApprovalRepository) load(tenantID, instanceID string) ([]*models.WorkflowApproval, error) {
	approvals := make([]*models.WorkflowApproval, 0)
	if _, err := r.store.read(r.store.path("approvals", tenantID, instanceID), &approvals); err != nil {
		return nil, err
	}

	return approvals, nil
}
