// Package engine runs tenant-defined approval workflows: it starts instances from
// templates, dispatches their steps and applies approval decisions and timeouts.
//
// The engine holds no workflow state between calls. Every instance mutation is a
// compare-and-swap on (status, currentStep) in the persistence layer, so concurrent
// approvals, rejections and timeouts cannot both apply.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxChainDepth    = 64
	DefaultTemplateCacheTTL = 5 * time.Minute
)

// ActionCreator builds the automation action named by id for one step config.
type ActionCreator interface {
	CreateAction(ctx context.Context, id string, config map[string]any) (protocol.Action, error)
}

type Config struct {
	Persistence persistence.Persistence
	// Timeouts overrides the persistence timeout repository, e.g. with the Redis store.
	Timeouts      persistence.TimeoutRepository
	Actions       ActionCreator
	Notifications protocol.NotificationSink
	// Publisher mirrors audit events to the event bus. Optional.
	Publisher eventbus.EventPublisher
	Logger    *slog.Logger
	Tracer    trace.Tracer

	MaxChainDepth    int
	TemplateCacheTTL time.Duration
	Clock            func() time.Time
}

type Engine struct {
	templates persistence.TemplateRepository
	instances persistence.InstanceRepository
	approvals persistence.ApprovalRepository
	events    persistence.EventRepository
	timeouts  persistence.TimeoutRepository

	actions       ActionCreator
	notifications protocol.NotificationSink
	publisher     eventbus.EventPublisher

	handlers      map[models.StepType]stepHandler
	templateCache *cache.Cache
	validate      *validator.Validate
	logger        *slog.Logger
	tracer        trace.Tracer
	maxChainDepth int
	now           func() time.Time
}

func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeouts := cfg.Timeouts
	if timeouts == nil {
		timeouts = cfg.Persistence.TimeoutRepository()
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otelhelper.Tracer("stepflow.engine")
	}

	maxChainDepth := cfg.MaxChainDepth
	if maxChainDepth <= 0 {
		maxChainDepth = DefaultMaxChainDepth
	}

	ttl := cfg.TemplateCacheTTL
	if ttl <= 0 {
		ttl = DefaultTemplateCacheTTL
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	e := &Engine{
		templates:     cfg.Persistence.TemplateRepository(),
		instances:     cfg.Persistence.InstanceRepository(),
		approvals:     cfg.Persistence.ApprovalRepository(),
		events:        cfg.Persistence.EventRepository(),
		timeouts:      timeouts,
		actions:       cfg.Actions,
		notifications: cfg.Notifications,
		publisher:     cfg.Publisher,
		templateCache: cache.New(ttl, 2*ttl),
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		logger:        logger.With("module", "engine"),
		tracer:        tracer,
		maxChainDepth: maxChainDepth,
		now:           func() time.Time { return clock().UTC() },
	}

	e.handlers = map[models.StepType]stepHandler{
		models.StepTypeApproval:     &approvalHandler{engine: e},
		models.StepTypeNotification: &notificationHandler{engine: e},
		models.StepTypeAutomation:   &automationHandler{engine: e},
		models.StepTypeCondition:    &conditionHandler{},
	}

	return e
}

// CreateTemplate stores a new template under a generated id. Only required fields are
// checked; step ids must be unique within the template and that is left to the caller.
func (e *Engine) CreateTemplate(ctx context.Context, template *models.WorkflowTemplate) (string, error) {
	if template == nil {
		return "", fmt.Errorf("%w: template is nil", ErrInvalidTemplate)
	}

	if err := e.validate.Struct(template); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}

	template.ID = uuid.NewString()
	template.CreatedAt = e.now()

	if err := e.templates.SaveTemplate(ctx, template); err != nil {
		return "", fmt.Errorf("failed to save template: %w", err)
	}

	e.logger.InfoContext(ctx, "Created workflow template",
		"template_id", template.ID,
		"tenant_id", template.TenantID,
		"steps", len(template.Steps),
	)

	return template.ID, nil
}

// GetTemplate returns a template regardless of whether it is active.
func (e *Engine) GetTemplate(ctx context.Context, tenantID, templateID string) (*models.WorkflowTemplate, error) {
	return e.template(ctx, tenantID, templateID)
}

func (e *Engine) Templates(ctx context.Context, tenantID string) ([]*models.WorkflowTemplate, error) {
	return e.templates.Templates(ctx, tenantID)
}

// StartRequest names the template and the business entity a workflow runs against.
type StartRequest struct {
	TemplateID string         `validate:"required"`
	EntityType string         `validate:"required"`
	EntityID   string         `validate:"required"`
	TenantID   string         `validate:"required"`
	Context    map[string]any
}

// StartWorkflow creates an active instance positioned at the first step and dispatches it.
//
// The instance id is returned even when a step fails while running; that failure is
// recorded on the instance. A non-nil error together with an id means the template
// is misconfigured or storage failed part way through.
func (e *Engine) StartWorkflow(ctx context.Context, req StartRequest) (string, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.StartWorkflow",
		attribute.String(otelhelper.TenantIDKey, req.TenantID),
		attribute.String(otelhelper.TemplateIDKey, req.TemplateID),
		attribute.String(otelhelper.EntityTypeKey, req.EntityType),
		attribute.String(otelhelper.EntityIDKey, req.EntityID),
	)
	defer span.End()

	if err := e.validate.Struct(req); err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		otelhelper.SetError(span, err)

		return "", err
	}

	template, err := e.template(ctx, req.TenantID, req.TemplateID)
	if err != nil {
		otelhelper.SetError(span, err)

		return "", err
	}

	if !template.IsActive {
		err := fmt.Errorf("%w: template %s is inactive", ErrTemplateNotFound, req.TemplateID)
		otelhelper.SetError(span, err)

		return "", err
	}

	firstStep, ok := template.FirstStep()
	if !ok {
		otelhelper.SetError(span, ErrNoSteps)

		return "", fmt.Errorf("%w: %s", ErrNoSteps, req.TemplateID)
	}

	values := req.Context
	if values == nil {
		values = map[string]any{}
	}

	instance := &models.WorkflowInstance{
		ID:           uuid.Must(uuid.NewV7()).String(),
		TemplateID:   template.ID,
		TemplateName: template.Name,
		EntityType:   req.EntityType,
		EntityID:     req.EntityID,
		CurrentStep:  firstStep.ID,
		Status:       models.InstanceStatusActive,
		Context:      values,
		AssignedTo:   firstStep.Assignee,
		TenantID:     req.TenantID,
		StartedAt:    e.now(),
	}

	span.SetAttributes(attribute.String(otelhelper.InstanceIDKey, instance.ID))

	if err := e.instances.CreateInstance(ctx, instance); err != nil {
		otelhelper.SetError(span, err)

		return "", fmt.Errorf("failed to create instance: %w", err)
	}

	logger := e.instanceLogger(instance)
	logger.InfoContext(ctx, "Started workflow", "template_id", template.ID)

	if err := e.logEvent(ctx, instance, models.EventTypeStarted, "Workflow started: "+template.Name); err != nil {
		otelhelper.SetError(span, err)

		return instance.ID, err
	}

	if err := e.run(ctx, template, instance, firstStep); err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Workflow dispatch stopped", "error", err)

		return instance.ID, err
	}

	return instance.ID, nil
}

func (e *Engine) GetInstance(ctx context.Context, tenantID, instanceID string) (*models.WorkflowInstance, error) {
	return e.instances.InstanceByID(ctx, tenantID, instanceID)
}

// GetWorkflowInstances lists a tenant's instances, newest first, with template names filled in.
func (e *Engine) GetWorkflowInstances(ctx context.Context, tenantID string, filter persistence.InstanceFilter) ([]*models.WorkflowInstance, error) {
	return e.instances.Instances(ctx, tenantID, filter)
}

// InstanceEvents returns the audit trail of an instance in the order it was written.
func (e *Engine) InstanceEvents(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowEvent, error) {
	if _, err := e.instances.InstanceByID(ctx, tenantID, instanceID); err != nil {
		return nil, err
	}

	return e.events.EventsByInstance(ctx, tenantID, instanceID)
}

func (e *Engine) InstanceApprovals(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowApproval, error) {
	if _, err := e.instances.InstanceByID(ctx, tenantID, instanceID); err != nil {
		return nil, err
	}

	return e.approvals.ApprovalsByInstance(ctx, tenantID, instanceID)
}

// PendingApprovals is the approval inbox of assignee; an empty assignee lists every pending approval.
func (e *Engine) PendingApprovals(ctx context.Context, tenantID, assignee string) ([]*models.WorkflowApproval, error) {
	return e.approvals.PendingApprovals(ctx, tenantID, assignee)
}

func (e *Engine) template(ctx context.Context, tenantID, templateID string) (*models.WorkflowTemplate, error) {
	key := tenantID + "/" + templateID

	if cached, found := e.templateCache.Get(key); found {
		return cached.(*models.WorkflowTemplate), nil
	}

	template, err := e.templates.TemplateByID(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}

	e.templateCache.SetDefault(key, template)

	return template, nil
}

func (e *Engine) instanceLogger(instance *models.WorkflowInstance) *slog.Logger {
	return e.logger.With(
		"instance_id", instance.ID,
		"tenant_id", instance.TenantID,
	)
}
