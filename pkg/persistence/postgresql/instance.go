package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// InstanceRepository handles instance-related database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

const selectInstance = `
	SELECT
		wi.id
	  , wi.tenant_id
	  , wi.template_id
	  , COALESCE(wt.name, '')
	  , wi.entity_type
	  , wi.entity_id
	  , wi.current_step
	  , wi.status
	  , wi.context
	  , wi.assigned_to
	  , wi.failure_reason
	  , wi.started_at
	  , wi.completed_at
	FROM workflow_instances wi
	LEFT JOIN workflow_templates wt ON wt.id = wi.template_id AND wt.tenant_id = wi.tenant_id
`

func (r *InstanceRepository) CreateInstance(ctx context.Context, instance *models.WorkflowInstance) error {
	contextJSON, err := marshalContext(instance.Context)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_instances (
			id, tenant_id, template_id, entity_type, entity_id, current_step, status,
			context, assigned_to, failure_reason, started_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID,
		instance.TenantID,
		instance.TemplateID,
		instance.EntityType,
		instance.EntityID,
		instance.CurrentStep,
		string(instance.Status),
		contextJSON,
		instance.AssignedTo,
		instance.FailureReason,
		instance.StartedAt,
		instance.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert instance %s: %w", instance.ID, err)
	}

	return nil
}

func (r *InstanceRepository) InstanceByID(ctx context.Context, tenantID, id string) (*models.WorkflowInstance, error) {
	row := r.db.QueryRowContext(ctx, selectInstance+` WHERE wi.id = $1 AND wi.tenant_id = $2`, id, tenantID)

	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("InstanceByID", tenantID, id, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	return instance, nil
}

func (r *InstanceRepository) Instances(ctx context.Context, tenantID string, filter persistence.InstanceFilter) ([]*models.WorkflowInstance, error) {
	var (
		query strings.Builder
		args  = []any{tenantID}
	)

	query.WriteString(selectInstance)
	query.WriteString(` WHERE wi.tenant_id = $1`)

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query.WriteString(` AND wi.status = $` + strconv.Itoa(len(args)))
	}

	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		query.WriteString(` AND wi.entity_type = $` + strconv.Itoa(len(args)))
	}

	query.WriteString(` ORDER BY wi.started_at DESC`)

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query.WriteString(` LIMIT $` + strconv.Itoa(len(args)))
	}

	rows, err := r.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate instances: %w", err)
	}

	return instances, nil
}

// TransitionInstance is a conditional UPDATE; the WHERE clause carries the guard so
// the database decides which of two concurrent writers wins.
func (r *InstanceRepository) TransitionInstance(ctx context.Context, tenantID, id string, guard persistence.InstanceGuard, change persistence.InstanceChange) (*models.WorkflowInstance, error) {
	query := `
		UPDATE workflow_instances
		SET current_step   = COALESCE(NULLIF($4, ''), current_step)
		  , status         = COALESCE(NULLIF($5, ''), status)
		  , failure_reason = COALESCE(NULLIF($6, ''), failure_reason)
		  , completed_at   = COALESCE($7, completed_at)
		WHERE id = $1 AND tenant_id = $2 AND status = 'active' AND current_step = $3
	`

	result, err := r.db.ExecContext(ctx, query,
		id,
		tenantID,
		guard.CurrentStep,
		change.CurrentStep,
		string(change.Status),
		change.FailureReason,
		change.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update instance %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		if _, err := r.InstanceByID(ctx, tenantID, id); err != nil {
			return nil, err
		}

		return nil, persistence.NewStepError("TransitionInstance", tenantID, id, guard.CurrentStep, persistence.ErrInstanceConflict)
	}

	return r.InstanceByID(ctx, tenantID, id)
}

func marshalContext(values map[string]any) ([]byte, error) {
	if values == nil {
		values = map[string]any{}
	}

	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context: %w", err)
	}

	return data, nil
}

func scanInstance(row scanner) (*models.WorkflowInstance, error) {
	var (
		instance    models.WorkflowInstance
		status      string
		contextJSON []byte
		completedAt sql.NullTime
	)

	err := row.Scan(
		&instance.ID,
		&instance.TenantID,
		&instance.TemplateID,
		&instance.TemplateName,
		&instance.EntityType,
		&instance.EntityID,
		&instance.CurrentStep,
		&status,
		&contextJSON,
		&instance.AssignedTo,
		&instance.FailureReason,
		&instance.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.Status = models.InstanceStatus(status)

	if err := json.Unmarshal(contextJSON, &instance.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}

	if completedAt.Valid {
		instance.CompletedAt = &completedAt.Time
	}

	return &instance, nil
}
