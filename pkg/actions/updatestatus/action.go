// Package updatestatus provides the automation that changes the status of the workflow's entity.
package updatestatus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

var errMissingStatus = errors.New("update_status requires newStatus")

type Action struct {
	NewStatus string

	updater protocol.EntityStatusUpdater
}

func NewAction(config map[string]any, updater protocol.EntityStatusUpdater) (*Action, error) {
	newStatus, _ := config["newStatus"].(string)
	if newStatus == "" {
		return nil, errMissingStatus
	}

	return &Action{NewStatus: newStatus, updater: updater}, nil
}

func (a *Action) Execute(ctx context.Context, instance *models.WorkflowInstance, logger *slog.Logger) error {
	logger = logger.With(
		"action", "update_status",
		"entity_type", instance.EntityType,
		"entity_id", instance.EntityID,
	)

	if err := a.updater.UpdateEntityStatus(ctx, instance.EntityType, instance.EntityID, a.NewStatus, instance.TenantID); err != nil {
		return fmt.Errorf("update %s %s status: %w", instance.EntityType, instance.EntityID, err)
	}

	logger.Info("Entity status updated", "status", a.NewStatus)

	return nil
}
