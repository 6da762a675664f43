// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"github.com/dukex/stepflow/pkg/models"
)

// CreateTemplateRequest represents the request body for creating a workflow template.
// Step ids must be unique within the template; this is not checked.
type CreateTemplateRequest struct {
	Name        string                    `json:"name"        validate:"required,min=3"`
	Description string                    `json:"description"`
	TriggerType string                    `json:"triggerType"`
	IsActive    *bool                     `json:"isActive"`
	Steps       []*models.WorkflowStepDef `json:"steps"       validate:"required,min=1,dive,required"`
}

// Template builds the template owned by tenantID. Templates are active unless the
// request says otherwise.
func (r CreateTemplateRequest) Template(tenantID string) *models.WorkflowTemplate {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}

	return &models.WorkflowTemplate{
		Name:        r.Name,
		Description: r.Description,
		TriggerType: r.TriggerType,
		IsActive:    active,
		Steps:       r.Steps,
		TenantID:    tenantID,
	}
}

// StartWorkflowRequest represents the request body for starting a workflow instance.
type StartWorkflowRequest struct {
	TemplateID string         `json:"templateId" validate:"required"`
	EntityType string         `json:"entityType" validate:"required"`
	EntityID   string         `json:"entityId"   validate:"required"`
	Context    map[string]any `json:"context"`
}

type StartWorkflowResponse struct {
	InstanceID string `json:"instanceId"`
}

type ApproveStepRequest struct {
	Comments string `json:"comments"`
}

type RejectStepRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// ListInstancesQuery holds the query parameters of an instance listing.
type ListInstancesQuery struct {
	Status     string `validate:"omitempty,oneof=pending active completed failed paused"`
	EntityType string
	Limit      int `validate:"min=0,max=500"`
}
