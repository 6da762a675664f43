package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
)

// EventRepository handles the append-only workflow_events table.
type EventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *sql.DB, logger *slog.Logger) *EventRepository {
	return &EventRepository{db: db, logger: logger}
}

func (r *EventRepository) AppendEvent(ctx context.Context, event *models.WorkflowEvent) error {
	query := `
		INSERT INTO workflow_events (id, tenant_id, instance_id, event_type, description, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.TenantID,
		event.InstanceID,
		string(event.EventType),
		event.Description,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event for instance %s: %w", event.InstanceID, err)
	}

	return nil
}

// EventsByInstance orders by the insertion sequence; timestamps of one call may collide.
func (r *EventRepository) EventsByInstance(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowEvent, error) {
	query := `
		SELECT
			id
		  , tenant_id
		  , instance_id
		  , event_type
		  , description
		  , timestamp
		FROM workflow_events
		WHERE tenant_id = $1 AND instance_id = $2
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	events := make([]*models.WorkflowEvent, 0)

	for rows.Next() {
		var (
			event     models.WorkflowEvent
			eventType string
		)

		if err := rows.Scan(&event.ID, &event.TenantID, &event.InstanceID, &eventType, &event.Description, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		event.EventType = models.EventType(eventType)
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}
