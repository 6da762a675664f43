package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// TimeoutRepository handles durable step deadlines.
type TimeoutRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTimeoutRepository creates a new timeout repository.
func NewTimeoutRepository(db *sql.DB, logger *slog.Logger) *TimeoutRepository {
	return &TimeoutRepository{db: db, logger: logger}
}

func (r *TimeoutRepository) ScheduleTimeout(ctx context.Context, timeout *models.StepTimeout) error {
	query := `
		INSERT INTO workflow_step_timeouts (tenant_id, instance_id, step_id, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, instance_id, step_id)
		DO UPDATE SET due_at = EXCLUDED.due_at, created_at = EXCLUDED.created_at
	`

	_, err := r.db.ExecContext(ctx, query,
		timeout.TenantID,
		timeout.InstanceID,
		timeout.StepID,
		timeout.DueAt,
		timeout.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to schedule timeout %s: %w", timeout.Key(), err)
	}

	return nil
}

func (r *TimeoutRepository) CancelTimeout(ctx context.Context, tenantID, instanceID, stepID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM workflow_step_timeouts WHERE tenant_id = $1 AND instance_id = $2 AND step_id = $3`,
		tenantID, instanceID, stepID,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel timeout %s: %w", models.TimeoutKey(tenantID, instanceID, stepID), err)
	}

	return nil
}

func (r *TimeoutRepository) DueTimeouts(ctx context.Context, now time.Time, limit int) ([]*models.StepTimeout, error) {
	query := `
		SELECT tenant_id, instance_id, step_id, due_at, created_at
		FROM workflow_step_timeouts
		WHERE due_at <= $1
		ORDER BY due_at
		LIMIT $2
	`

	if limit <= 0 {
		limit = persistence.DefaultTimeoutBatch
	}

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due timeouts: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	timeouts := make([]*models.StepTimeout, 0)

	for rows.Next() {
		var timeout models.StepTimeout

		if err := rows.Scan(&timeout.TenantID, &timeout.InstanceID, &timeout.StepID, &timeout.DueAt, &timeout.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan timeout: %w", err)
		}

		timeouts = append(timeouts, &timeout)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate timeouts: %w", err)
	}

	return timeouts, nil
}
