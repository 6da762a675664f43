package file

import (
	"context"
	"fmt"
	"sort"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// TemplateRepository stores one file per template under templates/<tenant>/.
type TemplateRepository struct {
	store *store
}

func (r *TemplateRepository) SaveTemplate(_ context.Context, template *models.WorkflowTemplate) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(r.store.path("templates", template.TenantID, template.ID), template)
}

func (r *TemplateRepository) TemplateByID(_ context.Context, tenantID, id string) (*models.WorkflowTemplate, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.load(tenantID, id)
}

func (r *TemplateRepository) Templates(_ context.Context, tenantID string) ([]*models.WorkflowTemplate, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	files, err := r.store.files(r.store.dir("templates", tenantID))
	if err != nil {
		return nil, err
	}

	templates := make([]*models.WorkflowTemplate, 0, len(files))

	for _, f := range files {
		var template models.WorkflowTemplate
		if _, err := r.store.read(f, &template); err != nil {
			return nil, err
		}

		templates = append(templates, &template)
	}

	sort.SliceStable(templates, func(i, j int) bool {
		return templates[i].CreatedAt.After(templates[j].CreatedAt)
	})

	return templates, nil
}

// load must be called with the store lock held.
func (r *TemplateRepository) load(tenantID, id string) (*models.WorkflowTemplate, error) {
	var template models.WorkflowTemplate

	found, err := r.store.read(r.store.path("templates", tenantID, id), &template)
	if err != nil {
		return nil, err
	}

	if !found || template.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %s", persistence.ErrTemplateNotFound, id)
	}

	return &template, nil
}
