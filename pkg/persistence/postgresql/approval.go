package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// ApprovalRepository handles approval-related database operations.
type ApprovalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(db *sql.DB, logger *slog.Logger) *ApprovalRepository {
	return &ApprovalRepository{db: db, logger: logger}
}

const approvalColumns = `
		id
	  , tenant_id
	  , instance_id
	  , step_id
	  , assignee
	  , status
	  , approved_by
	  , approved_at
	  , rejected_by
	  , rejected_at
	  , comments
	  , created_at
`

func (r *ApprovalRepository) CreateApproval(ctx context.Context, approval *models.WorkflowApproval) error {
	query := `
		INSERT INTO workflow_approvals (id, tenant_id, instance_id, step_id, assignee, status, comments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		approval.ID,
		approval.TenantID,
		approval.InstanceID,
		approval.StepID,
		approval.Assignee,
		string(approval.Status),
		approval.Comments,
		approval.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert approval %s: %w", approval.ID, err)
	}

	return nil
}

// DecideApproval only touches a pending row, so a second decision finds nothing to update.
func (r *ApprovalRepository) DecideApproval(ctx context.Context, tenantID, instanceID, stepID string, decision models.ApprovalDecision) (*models.WorkflowApproval, error) {
	var approvedBy, rejectedBy string

	var approvedAt, rejectedAt *time.Time

	decidedAt := decision.DecidedAt

	switch decision.Status {
	case models.ApprovalStatusApproved:
		approvedBy, approvedAt = decision.DecidedBy, &decidedAt
	case models.ApprovalStatusRejected:
		rejectedBy, rejectedAt = decision.DecidedBy, &decidedAt
	default:
		return nil, fmt.Errorf("invalid approval decision %q", decision.Status)
	}

	query := `
		UPDATE workflow_approvals
		SET status      = $4
		  , approved_by = $5
		  , approved_at = $6
		  , rejected_by = $7
		  , rejected_at = $8
		  , comments    = $9
		WHERE tenant_id = $1 AND instance_id = $2 AND step_id = $3 AND status = 'pending'
		RETURNING ` + approvalColumns

	row := r.db.QueryRowContext(ctx, query,
		tenantID,
		instanceID,
		stepID,
		string(decision.Status),
		approvedBy,
		approvedAt,
		rejectedBy,
		rejectedAt,
		decision.Comments,
	)

	approval, err := scanApproval(row)
	if err == nil {
		return approval, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to decide approval: %w", err)
	}

	var exists bool

	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflow_approvals WHERE tenant_id = $1 AND instance_id = $2 AND step_id = $3)`,
		tenantID, instanceID, stepID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up approval: %w", err)
	}

	if exists {
		return nil, persistence.NewStepError("DecideApproval", tenantID, instanceID, stepID, persistence.ErrApprovalNotPending)
	}

	return nil, persistence.NewStepError("DecideApproval", tenantID, instanceID, stepID, persistence.ErrApprovalNotFound)
}

func (r *ApprovalRepository) ApprovalsByInstance(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowApproval, error) {
	return r.query(ctx,
		`SELECT `+approvalColumns+` FROM workflow_approvals WHERE tenant_id = $1 AND instance_id = $2 ORDER BY created_at, id`,
		tenantID, instanceID,
	)
}

func (r *ApprovalRepository) PendingApprovals(ctx context.Context, tenantID, assignee string) ([]*models.WorkflowApproval, error) {
	return r.query(ctx,
		`SELECT `+approvalColumns+` FROM workflow_approvals
		WHERE tenant_id = $1 AND status = 'pending' AND ($2::text = '' OR assignee = $2::text)
		ORDER BY created_at, id`,
		tenantID, assignee,
	)
}

func (r *ApprovalRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowApproval, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	approvals := make([]*models.WorkflowApproval, 0)

	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}

		approvals = append(approvals, approval)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate approvals: %w", err)
	}

	return approvals, nil
}

func scanApproval(row scanner) (*models.WorkflowApproval, error) {
	var (
		approval   models.WorkflowApproval
		status     string
		approvedAt sql.NullTime
		rejectedAt sql.NullTime
	)

	err := row.Scan(
		&approval.ID,
		&approval.TenantID,
		&approval.InstanceID,
		&approval.StepID,
		&approval.Assignee,
		&status,
		&approval.ApprovedBy,
		&approvedAt,
		&approval.RejectedBy,
		&rejectedAt,
		&approval.Comments,
		&approval.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	approval.Status = models.ApprovalStatus(status)

	if approvedAt.Valid {
		approval.ApprovedAt = &approvedAt.Time
	}

	if rejectedAt.Valid {
		approval.RejectedAt = &rejectedAt.Time
	}

	return &approval, nil
}
