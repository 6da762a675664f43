package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// TemplateRepository handles template-related database operations.
type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

const selectTemplate = `
	SELECT
		id
	  , tenant_id
	  , name
	  , description
	  , trigger_type
	  , is_active
	  , steps
	  , created_at
	FROM workflow_templates
`

func (r *TemplateRepository) SaveTemplate(ctx context.Context, template *models.WorkflowTemplate) error {
	steps, err := json.Marshal(template.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `
		INSERT INTO workflow_templates (id, tenant_id, name, description, trigger_type, is_active, steps, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		template.ID,
		template.TenantID,
		template.Name,
		template.Description,
		template.TriggerType,
		template.IsActive,
		steps,
		template.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert template %s: %w", template.ID, err)
	}

	return nil
}

func (r *TemplateRepository) TemplateByID(ctx context.Context, tenantID, id string) (*models.WorkflowTemplate, error) {
	row := r.db.QueryRowContext(ctx, selectTemplate+` WHERE id = $1 AND tenant_id = $2`, id, tenantID)

	template, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrTemplateNotFound, id)
		}

		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	return template, nil
}

func (r *TemplateRepository) Templates(ctx context.Context, tenantID string) ([]*models.WorkflowTemplate, error) {
	rows, err := r.db.QueryContext(ctx, selectTemplate+` WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	templates := make([]*models.WorkflowTemplate, 0)

	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		templates = append(templates, template)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate templates: %w", err)
	}

	return templates, nil
}

func scanTemplate(row scanner) (*models.WorkflowTemplate, error) {
	var (
		template models.WorkflowTemplate
		steps    []byte
	)

	err := row.Scan(
		&template.ID,
		&template.TenantID,
		&template.Name,
		&template.Description,
		&template.TriggerType,
		&template.IsActive,
		&steps,
		&template.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(steps, &template.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	return &template, nil
}
