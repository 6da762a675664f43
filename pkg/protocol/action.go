// Package protocol defines the contracts between the workflow engine and its pluggable parts.
package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
)

// Action is a configured automation, ready to run against an instance.
type Action interface {
	Execute(ctx context.Context, instance *models.WorkflowInstance, logger *slog.Logger) error
}

// ActionFactory builds actions for one automation name.
type ActionFactory interface {
	ID() string
	Name() string
	Description() string
	// Schema is the JSON schema the step config is validated against before Create.
	Schema() map[string]any
	Create(ctx context.Context, config map[string]any) (Action, error)
}
