package updatestatus

import (
	"context"

	"github.com/dukex/stepflow/pkg/protocol"
)

// ActionFactory builds update_status actions bound to a status updater.
type ActionFactory struct {
	updater protocol.EntityStatusUpdater
}

func NewActionFactory(updater protocol.EntityStatusUpdater) *ActionFactory {
	return &ActionFactory{updater: updater}
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.updater)
}

func (*ActionFactory) ID() string {
	return "update_status"
}

func (*ActionFactory) Name() string {
	return "Update status"
}

func (*ActionFactory) Description() string {
	return "Sets the status of the entity the workflow instance runs against."
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"newStatus": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Status written to the entity.",
				"examples":    []string{"approved", "in_review", "closed"},
			},
		},
		"required": []string{"newStatus"},
	}
}
