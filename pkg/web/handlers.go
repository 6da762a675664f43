// Package web provides HTTP handlers and REST API endpoints for workflow templates,
// instances and approvals.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/stepflow/pkg/engine"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const (
	TenantHeader = "X-Tenant-ID"
	UserHeader   = "X-User-ID"

	tenantLocal = "tenant_id"
	loggerLocal = "logger"
)

// WorkflowEngine is the caller surface of the engine used by the handlers.
type WorkflowEngine interface {
	CreateTemplate(ctx context.Context, template *models.WorkflowTemplate) (string, error)
	GetTemplate(ctx context.Context, tenantID, templateID string) (*models.WorkflowTemplate, error)
	Templates(ctx context.Context, tenantID string) ([]*models.WorkflowTemplate, error)
	StartWorkflow(ctx context.Context, req engine.StartRequest) (string, error)
	ApproveStep(ctx context.Context, decision engine.Decision) error
	RejectStep(ctx context.Context, decision engine.Decision) error
	GetInstance(ctx context.Context, tenantID, instanceID string) (*models.WorkflowInstance, error)
	GetWorkflowInstances(ctx context.Context, tenantID string, filter persistence.InstanceFilter) ([]*models.WorkflowInstance, error)
	InstanceEvents(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowEvent, error)
	InstanceApprovals(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowApproval, error)
	PendingApprovals(ctx context.Context, tenantID, assignee string) ([]*models.WorkflowApproval, error)
}

// HealthChecker reports the state of one dependency.
type HealthChecker func(ctx context.Context) (string, bool)

type APIHandlers struct {
	engine    WorkflowEngine
	validator *validator.Validate
	logger    *slog.Logger
	checkers  map[string]HealthChecker
}

func NewAPIHandlers(
	engine WorkflowEngine,
	validator *validator.Validate,
	logger *slog.Logger,
	checkers map[string]HealthChecker,
) *APIHandlers {
	return &APIHandlers{
		engine:    engine,
		validator: validator,
		logger:    logger.With("module", "web"),
		checkers:  checkers,
	}
}

// RequireTenant rejects requests without a tenant header and keeps the tenant and a
// request scoped logger for the handlers.
func (h *APIHandlers) RequireTenant(c fiber.Ctx) error {
	tenantID := c.Get(TenantHeader)
	if tenantID == "" {
		return badRequest(c, TenantHeader+" header is required")
	}

	c.Locals(tenantLocal, tenantID)
	c.Locals(loggerLocal, h.logger.With("tenant_id", tenantID, "method", c.Method(), "path", c.Path()))

	return c.Next()
}

func tenant(c fiber.Ctx) string {
	tenantID, _ := c.Locals(tenantLocal).(string)

	return tenantID
}

func (h *APIHandlers) requestLogger(c fiber.Ctx) *slog.Logger {
	if logger, ok := c.Locals(loggerLocal).(*slog.Logger); ok {
		return logger
	}

	return h.logger
}

// requestContext returns the request context carrying the request logger.
func (h *APIHandlers) requestContext(c fiber.Ctx) context.Context {
	return log.WithLogger(c.Context(), h.requestLogger(c))
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Stepflow API is healthy"
	httpStatus := http.StatusOK
	results := fiber.Map{}

	for name, check := range h.checkers {
		result, ok := check(c.Context())
		results[name] = result

		if !ok {
			status = "unhealthy"
			message = "Stepflow API is unhealthy"
			httpStatus = http.StatusInternalServerError
		}
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"checkers":  results,
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateTemplate(c fiber.Ctx) error {
	var req CreateTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	id, err := h.engine.CreateTemplate(h.requestContext(c), req.Template(tenant(c)))
	if err != nil {
		return handleEngineError(c, err)
	}

	template, err := h.engine.GetTemplate(h.requestContext(c), tenant(c), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(template)
}

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	templates, err := h.engine.Templates(h.requestContext(c), tenant(c))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"templates":   templates,
		"total_count": len(templates),
	})
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Template ID is required")
	}

	template, err := h.engine.GetTemplate(h.requestContext(c), tenant(c), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(template)
}

// StartWorkflow answers 201 once the instance exists. When the engine stops it with an
// error after creation, the problem body carries extensions.instanceId so clients can
// read the failed instance.
func (h *APIHandlers) StartWorkflow(c fiber.Ctx) error {
	var req StartWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instanceID, err := h.engine.StartWorkflow(h.requestContext(c), engine.StartRequest{
		TemplateID: req.TemplateID,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		TenantID:   tenant(c),
		Context:    req.Context,
	})
	if err != nil {
		h.requestLogger(c).ErrorContext(c.Context(), "Failed to start workflow",
			"template_id", req.TemplateID,
			"instance_id", instanceID,
			"error", err,
		)

		return handleStartError(c, instanceID, err)
	}

	return c.Status(fiber.StatusCreated).JSON(StartWorkflowResponse{InstanceID: instanceID})
}

func (h *APIHandlers) GetInstances(c fiber.Ctx) error {
	query := ListInstancesQuery{
		Status:     c.Query("status"),
		EntityType: c.Query("entity_type"),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		query.Limit = limit
	}

	if err := h.validator.Struct(query); err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	instances, err := h.engine.GetWorkflowInstances(h.requestContext(c), tenant(c), persistence.InstanceFilter{
		Status:     models.InstanceStatus(query.Status),
		EntityType: query.EntityType,
		Limit:      query.Limit,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"instances":   instances,
		"total_count": len(instances),
	})
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	instance, err := h.engine.GetInstance(h.requestContext(c), tenant(c), c.Params("instanceId"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetInstanceEvents(c fiber.Ctx) error {
	trail, err := h.engine.InstanceEvents(h.requestContext(c), tenant(c), c.Params("instanceId"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"events": trail})
}

func (h *APIHandlers) GetInstanceApprovals(c fiber.Ctx) error {
	approvals, err := h.engine.InstanceApprovals(h.requestContext(c), tenant(c), c.Params("instanceId"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"approvals": approvals})
}

// GetPendingApprovals lists the approval inbox of the assignee query parameter,
// defaulting to the calling user.
func (h *APIHandlers) GetPendingApprovals(c fiber.Ctx) error {
	assignee := c.Query("assignee", c.Get(UserHeader))

	approvals, err := h.engine.PendingApprovals(h.requestContext(c), tenant(c), assignee)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"approvals":   approvals,
		"total_count": len(approvals),
	})
}

func (h *APIHandlers) ApproveStep(c fiber.Ctx) error {
	actor := c.Get(UserHeader)
	if actor == "" {
		return badRequest(c, UserHeader+" header is required")
	}

	var req ApproveStepRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	err := h.engine.ApproveStep(h.requestContext(c), engine.Decision{
		TenantID:   tenant(c),
		InstanceID: c.Params("instanceId"),
		StepID:     c.Params("stepId"),
		ActorID:    actor,
		Comments:   req.Comments,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return h.GetInstance(c)
}

func (h *APIHandlers) RejectStep(c fiber.Ctx) error {
	actor := c.Get(UserHeader)
	if actor == "" {
		return badRequest(c, UserHeader+" header is required")
	}

	var req RejectStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.engine.RejectStep(h.requestContext(c), engine.Decision{
		TenantID:   tenant(c),
		InstanceID: c.Params("instanceId"),
		StepID:     c.Params("stepId"),
		ActorID:    actor,
		Comments:   req.Reason,
	})
	if err != nil {
		return handleEngineError(c, err)
	}

	return h.GetInstance(c)
}
