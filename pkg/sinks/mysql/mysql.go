// Package mysql writes workflow side effects into the construction-management product database.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/go-sql-driver/mysql"
)

// entityTables maps the entity types whose status automations may change.
// Any other entity type is ignored.
var entityTables = map[string]string{
	"project": "projects",
	"task":    "tasks",
	"expense": "expenses",
}

const taskStatusPending = "pending"

type Sink struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSink opens the product database described by dsn.
func NewSink(ctx context.Context, logger *slog.Logger, dsn string) (*Sink, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mysql dsn: %w", err)
	}

	cfg.ParseTime = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}

	return NewSinkWithDB(db, logger), nil
}

func NewSinkWithDB(db *sql.DB, logger *slog.Logger) *Sink {
	return &Sink{db: db, logger: logger.With("module", "mysql_sink")}
}

// Sinks returns the entity, notification and task collaborators backed by s.
// Email is not stored in the product database.
func (s *Sink) Sinks(email protocol.EmailSender) protocol.Sinks {
	return protocol.Sinks{
		Status:        s,
		Notifications: s,
		Email:         email,
		Tasks:         s,
	}
}

func (s *Sink) UpdateEntityStatus(ctx context.Context, entityType, entityID, newStatus, tenantID string) error {
	table, ok := entityTables[entityType]
	if !ok {
		s.logger.DebugContext(ctx, "ignoring status update for unmanaged entity type",
			"entity_type", entityType,
			"entity_id", entityID,
		)

		return nil
	}

	query := fmt.Sprintf("UPDATE %s SET status = ?, updated_at = ? WHERE id = ? AND tenant_id = ?", table)

	_, err := s.db.ExecContext(ctx, query, newStatus, time.Now().UTC(), entityID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update %s status: %w", entityType, err)
	}

	return nil
}

func (s *Sink) CreateTask(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (id, title, description, project_id, assigned_to, priority, due_date, status, tenant_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Title,
		task.Description,
		nullable(task.ProjectID),
		nullable(task.Assignee),
		task.Priority,
		nullable(task.DueDate),
		taskStatusPending,
		task.TenantID,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

func (s *Sink) CreateNotification(ctx context.Context, notification *models.Notification) error {
	metadata, err := json.Marshal(notification.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal notification metadata: %w", err)
	}

	query := `
		INSERT INTO notifications (id, type, title, message, recipient_id, metadata, tenant_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		notification.ID,
		notification.Type,
		notification.Title,
		notification.Message,
		notification.Recipient,
		metadata,
		notification.TenantID,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

func (s *Sink) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Sink) Close() error {
	return s.db.Close()
}

func nullable(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
