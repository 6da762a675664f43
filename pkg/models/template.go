// Package models defines the core domain models for tenant-defined approval workflows
package models

import "time"

// StepType is the closed set of behaviours a workflow step can have.
type StepType string

const (
	StepTypeApproval     StepType = "approval"     // Suspends until a decision or timeout
	StepTypeNotification StepType = "notification" // Emits a notification, advances immediately
	StepTypeAutomation   StepType = "automation"   // Runs a registered action, advances on success
	StepTypeCondition    StepType = "condition"    // Branches on the instance context
)

// Valid reports whether t is one of the known step types.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeApproval, StepTypeNotification, StepTypeAutomation, StepTypeCondition:
		return true
	default:
		return false
	}
}

// Condition operators understood by condition steps.
const (
	OperatorEquals      = "equals"
	OperatorGreaterThan = "greater_than"
	OperatorLessThan    = "less_than"
	OperatorContains    = "contains"
)

// StepCondition is the branching rule of a condition step.
type StepCondition struct {
	Field     string `json:"field"`
	Operator  string `json:"operator"`
	Value     any    `json:"value"`
	TrueStep  string `json:"trueStep,omitempty"`
	FalseStep string `json:"falseStep,omitempty"`
}

// WorkflowStepDef is a single step of a template.
//
// Only NextSteps[0] is ever followed; additional entries are accepted and stored
// but never used.
type WorkflowStepDef struct {
	ID             string         `json:"id"                       validate:"required"`
	Name           string         `json:"name"                     validate:"required"`
	Type           StepType       `json:"type"                     validate:"required"`
	Config         map[string]any `json:"config,omitempty"`
	Assignee       string         `json:"assignee,omitempty"`
	NextSteps      []string       `json:"nextSteps"`
	Conditions     *StepCondition `json:"conditions,omitempty"`
	TimeoutMinutes int            `json:"timeoutMinutes,omitempty" validate:"min=0"`
}

// ConfigString returns the string value of a config key, or "" when absent.
func (s *WorkflowStepDef) ConfigString(key string) string {
	if s.Config == nil {
		return ""
	}

	v, _ := s.Config[key].(string)

	return v
}

// WorkflowTemplate is a tenant-owned workflow definition. It is read-only once created.
type WorkflowTemplate struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"        validate:"required"`
	Description string             `json:"description"`
	TriggerType string             `json:"triggerType"`
	IsActive    bool               `json:"isActive"`
	Steps       []*WorkflowStepDef `json:"steps"       validate:"required,min=1,dive,required"`
	TenantID    string             `json:"tenantId"    validate:"required"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// Step looks up a step definition by id.
func (t *WorkflowTemplate) Step(id string) (*WorkflowStepDef, bool) {
	if id == "" {
		return nil, false
	}

	for _, step := range t.Steps {
		if step.ID == id {
			return step, true
		}
	}

	return nil, false
}

// FirstStep returns the entry step of the template.
func (t *WorkflowTemplate) FirstStep() (*WorkflowStepDef, bool) {
	if len(t.Steps) == 0 {
		return nil, false
	}

	return t.Steps[0], true
}
