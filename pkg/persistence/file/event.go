package file

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
)

// EventRepository appends the audit trail of an instance to a single file.
type EventRepository struct {
	store *store
}

func (r *EventRepository) AppendEvent(_ context.Context, event *models.WorkflowEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	events, err := r.load(event.TenantID, event.InstanceID)
	if err != nil {
		return err
	}

	return r.store.write(r.store.path("events", event.TenantID, event.InstanceID), append(events, event))
}

func (r *EventRepository) EventsByInstance(_ context.Context, tenantID, instanceID string) ([]*models.WorkflowEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.load(tenantID, instanceID)
}

func (r *EventRepository) load(tenantID, instanceID string) ([]*models.WorkflowEvent, error) {
	events := make([]*models.WorkflowEvent, 0)
	if _, err := r.store.read(r.store.path("events", tenantID, instanceID), &events); err != nil {
		return nil, err
	}

	return events, nil
}
