package file

import (
	"context"
	"sort"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// InstanceRepository stores one file per instance under instances/<tenant>/.
type InstanceRepository struct {
	store *store
}

func (r *InstanceRepository) CreateInstance(_ context.Context, instance *models.WorkflowInstance) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(r.store.path("instances", instance.TenantID, instance.ID), instance)
}

func (r *InstanceRepository) InstanceByID(_ context.Context, tenantID, id string) (*models.WorkflowInstance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	instance, err := r.load("InstanceByID", tenantID, id)
	if err != nil {
		return nil, err
	}

	r.withTemplateName(instance)

	return instance, nil
}

func (r *InstanceRepository) Instances(_ context.Context, tenantID string, filter persistence.InstanceFilter) ([]*models.WorkflowInstance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	files, err := r.store.files(r.store.dir("instances", tenantID))
	if err != nil {
		return nil, err
	}

	instances := make([]*models.WorkflowInstance, 0, len(files))

	for _, f := range files {
		var instance models.WorkflowInstance
		if _, err := r.store.read(f, &instance); err != nil {
			return nil, err
		}

		if filter.Status != "" && instance.Status != filter.Status {
			continue
		}

		if filter.EntityType != "" && instance.EntityType != filter.EntityType {
			continue
		}

		r.withTemplateName(&instance)
		instances = append(instances, &instance)
	}

	sort.SliceStable(instances, func(i, j int) bool {
		return instances[i].StartedAt.After(instances[j].StartedAt)
	})

	if filter.Limit > 0 && len(instances) > filter.Limit {
		instances = instances[:filter.Limit]
	}

	return instances, nil
}

func (r *InstanceRepository) TransitionInstance(_ context.Context, tenantID, id string, guard persistence.InstanceGuard, change persistence.InstanceChange) (*models.WorkflowInstance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	instance, err := r.load("TransitionInstance", tenantID, id)
	if err != nil {
		return nil, err
	}

	if !guard.Matches(instance) {
		return nil, persistence.NewStepError("TransitionInstance", tenantID, id, guard.CurrentStep, persistence.ErrInstanceConflict)
	}

	change.Apply(instance)

	if err := r.store.write(r.store.path("instances", tenantID, id), instance); err != nil {
		return nil, err
	}

	r.withTemplateName(instance)

	return instance, nil
}

// load must be called with the store lock held.
func (r *InstanceRepository) load(op, tenantID, id string) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance

	found, err := r.store.read(r.store.path("instances", tenantID, id), &instance)
	if err != nil {
		return nil, err
	}

	if !found || instance.TenantID != tenantID {
		return nil, persistence.NewInstanceError(op, tenantID, id, persistence.ErrInstanceNotFound)
	}

	return &instance, nil
}

// withTemplateName must be called with the store lock held.
func (r *InstanceRepository) withTemplateName(instance *models.WorkflowInstance) {
	var template models.WorkflowTemplate
	if found, err := r.store.read(r.store.path("templates", instance.TenantID, instance.TemplateID), &template); err == nil && found {
		instance.TemplateName = template.Name
	}
}
