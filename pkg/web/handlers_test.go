package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/dukex/stepflow/pkg/actions/updatestatus"
	"github.com/dukex/stepflow/pkg/engine"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/sinks/logsink"
	"github.com/dukex/stepflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTenant = "tenant-1"

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store := file.NewPersistence(t.TempDir())
	sinks := logsink.New(logger)

	reg := registry.New(logger)
	reg.RegisterAction(updatestatus.NewActionFactory(sinks))

	workflowEngine := engine.New(engine.Config{
		Persistence:   store,
		Actions:       reg,
		Notifications: sinks,
		Logger:        logger,
	})

	handlers := web.NewAPIHandlers(
		workflowEngine,
		validator.New(validator.WithRequiredStructEnabled()),
		logger,
		map[string]web.HealthChecker{
			"registry": func(context.Context) (string, bool) { return reg.HealthCheck() },
		},
	)

	app := fiber.New()
	app.Get("/health", handlers.HealthCheck)

	tpl := app.Group("/templates", handlers.RequireTenant)
	tpl.Get("/", handlers.GetTemplates)
	tpl.Post("/", handlers.CreateTemplate)
	tpl.Get("/:id", handlers.GetTemplate)

	w := app.Group("/workflows", handlers.RequireTenant)
	w.Get("/", handlers.GetInstances)
	w.Post("/start", handlers.StartWorkflow)
	w.Get("/:instanceId", handlers.GetInstance)
	w.Get("/:instanceId/events", handlers.GetInstanceEvents)
	w.Get("/:instanceId/approvals", handlers.GetInstanceApprovals)
	w.Post("/:instanceId/steps/:stepId/approve", handlers.ApproveStep)
	w.Post("/:instanceId/steps/:stepId/reject", handlers.RejectStep)

	a := app.Group("/approvals", handlers.RequireTenant)
	a.Get("/pending", handlers.GetPendingApprovals)

	return app
}

type call struct {
	method string
	path   string
	body   any
	tenant string
	user   string
}

func do(t *testing.T, app *fiber.App, c call) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if c.body != nil {
		payload, err := json.Marshal(c.body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(c.method, c.path, reader)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.tenant != "" {
		req.Header.Set(web.TenantHeader, c.tenant)
	}

	if c.user != "" {
		req.Header.Set(web.UserHeader, c.user)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, body
}

func problemType(t *testing.T, body []byte) string {
	t.Helper()

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))

	kind, _ := problem["type"].(string)

	return kind
}

func approvalTemplate() web.CreateTemplateRequest {
	return web.CreateTemplateRequest{
		Name:        "Budget approval",
		Description: "Approve project budgets",
		TriggerType: "manual",
		Steps: []*models.WorkflowStepDef{
			{
				ID:        "mark",
				Name:      "Mark in review",
				Type:      models.StepTypeAutomation,
				Config:    map[string]any{"action": "update_status", "newStatus": "in_review"},
				NextSteps: []string{"review"},
			},
			{
				ID:       "review",
				Name:     "Manager review",
				Type:     models.StepTypeApproval,
				Assignee: "u1",
			},
		},
	}
}

func createTemplate(t *testing.T, app *fiber.App, req web.CreateTemplateRequest) string {
	t.Helper()

	status, body := do(t, app, call{method: http.MethodPost, path: "/templates", body: req, tenant: testTenant})
	require.Equal(t, http.StatusCreated, status, string(body))

	var template models.WorkflowTemplate
	require.NoError(t, json.Unmarshal(body, &template))

	return template.ID
}

func startWorkflow(t *testing.T, app *fiber.App, templateID string) string {
	t.Helper()

	status, body := do(t, app, call{
		method: http.MethodPost,
		path:   "/workflows/start",
		body: web.StartWorkflowRequest{
			TemplateID: templateID,
			EntityType: "project",
			EntityID:   "project-42",
			Context:    map[string]any{"amount": "15000"},
		},
		tenant: testTenant,
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var resp web.StartWorkflowResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotEmpty(t, resp.InstanceID)

	return resp.InstanceID
}

func getInstance(t *testing.T, app *fiber.App, instanceID string) models.WorkflowInstance {
	t.Helper()

	status, body := do(t, app, call{method: http.MethodGet, path: "/workflows/" + instanceID, tenant: testTenant})
	require.Equal(t, http.StatusOK, status, string(body))

	var instance models.WorkflowInstance
	require.NoError(t, json.Unmarshal(body, &instance))

	return instance
}

func TestAPIHandlers_RequireTenant(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := do(t, app, call{method: http.MethodGet, path: "/workflows"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", problemType(t, body))
}

func TestAPIHandlers_CreateTemplate(t *testing.T) {
	t.Parallel()

	inactive := false
	noSteps := approvalTemplate()
	noSteps.Steps = nil

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		validateResult func(t *testing.T, body []byte)
	}{
		{
			name:           "successful creation",
			requestBody:    approvalTemplate(),
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var template models.WorkflowTemplate
				require.NoError(t, json.Unmarshal(body, &template))
				assert.NotEmpty(t, template.ID)
				assert.Equal(t, testTenant, template.TenantID)
				assert.True(t, template.IsActive)
				assert.Len(t, template.Steps, 2)
			},
		},
		{
			name: "inactive template",
			requestBody: web.CreateTemplateRequest{
				Name:     "Retired flow",
				IsActive: &inactive,
				Steps:    approvalTemplate().Steps,
			},
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var template models.WorkflowTemplate
				require.NoError(t, json.Unmarshal(body, &template))
				assert.False(t, template.IsActive)
			},
		},
		{
			name:           "without steps",
			requestBody:    noSteps,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "step without type",
			requestBody: web.CreateTemplateRequest{
				Name:  "Broken",
				Steps: []*models.WorkflowStepDef{{ID: "a", Name: "A"}},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid json",
			requestBody:    "not an object",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := setupTestApp(t)

			status, body := do(t, app, call{method: http.MethodPost, path: "/templates", body: tt.requestBody, tenant: testTenant})
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.validateResult != nil {
				tt.validateResult(t, body)
			}
		})
	}
}

func TestAPIHandlers_GetTemplate(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	templateID := createTemplate(t, app, approvalTemplate())

	status, _ := do(t, app, call{method: http.MethodGet, path: "/templates/" + templateID, tenant: testTenant})
	assert.Equal(t, http.StatusOK, status)

	status, body := do(t, app, call{method: http.MethodGet, path: "/templates/" + templateID, tenant: "tenant-2"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "template_not_found", problemType(t, body))

	status, body = do(t, app, call{method: http.MethodGet, path: "/templates", tenant: testTenant})
	require.Equal(t, http.StatusOK, status)

	var list struct {
		Templates  []models.WorkflowTemplate `json:"templates"`
		TotalCount int                       `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 1, list.TotalCount)
}

func TestAPIHandlers_StartAndApprove(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	instanceID := startWorkflow(t, app, createTemplate(t, app, approvalTemplate()))

	instance := getInstance(t, app, instanceID)
	assert.Equal(t, models.InstanceStatusActive, instance.Status)
	assert.Equal(t, "review", instance.CurrentStep)
	assert.Equal(t, "Budget approval", instance.TemplateName)

	status, body := do(t, app, call{method: http.MethodGet, path: "/approvals/pending", tenant: testTenant, user: "u1"})
	require.Equal(t, http.StatusOK, status)

	var inbox struct {
		Approvals []models.WorkflowApproval `json:"approvals"`
	}
	require.NoError(t, json.Unmarshal(body, &inbox))
	require.Len(t, inbox.Approvals, 1)
	assert.Equal(t, instanceID, inbox.Approvals[0].InstanceID)

	path := "/workflows/" + instanceID + "/steps/review/approve"

	status, body = do(t, app, call{method: http.MethodPost, path: path, tenant: testTenant})
	assert.Equal(t, http.StatusBadRequest, status, "approver header is required")
	assert.Equal(t, "validation_error", problemType(t, body))

	status, body = do(t, app, call{
		method: http.MethodPost,
		path:   path,
		body:   web.ApproveStepRequest{Comments: "ok"},
		tenant: testTenant,
		user:   "u1",
	})
	require.Equal(t, http.StatusOK, status, string(body))

	var approved models.WorkflowInstance
	require.NoError(t, json.Unmarshal(body, &approved))
	assert.Equal(t, models.InstanceStatusCompleted, approved.Status)
	assert.NotNil(t, approved.CompletedAt)

	status, body = do(t, app, call{method: http.MethodPost, path: path, tenant: testTenant, user: "u1"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", problemType(t, body))

	status, body = do(t, app, call{method: http.MethodGet, path: "/workflows/" + instanceID + "/events", tenant: testTenant})
	require.Equal(t, http.StatusOK, status)

	var trail struct {
		Events []models.WorkflowEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(body, &trail))
	require.Len(t, trail.Events, 5)
	assert.Equal(t, models.EventTypeStarted, trail.Events[0].EventType)
	assert.Equal(t, models.EventTypeCompleted, trail.Events[4].EventType)
}

func TestAPIHandlers_Reject(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	instanceID := startWorkflow(t, app, createTemplate(t, app, approvalTemplate()))
	path := "/workflows/" + instanceID + "/steps/review/reject"

	status, _ := do(t, app, call{method: http.MethodPost, path: path, body: web.RejectStepRequest{}, tenant: testTenant, user: "u1"})
	assert.Equal(t, http.StatusBadRequest, status, "reason is required")

	status, body := do(t, app, call{
		method: http.MethodPost,
		path:   path,
		body:   web.RejectStepRequest{Reason: "Over budget"},
		tenant: testTenant,
		user:   "u1",
	})
	require.Equal(t, http.StatusOK, status, string(body))

	var rejected models.WorkflowInstance
	require.NoError(t, json.Unmarshal(body, &rejected))
	assert.Equal(t, models.InstanceStatusFailed, rejected.Status)
	assert.Equal(t, "Workflow rejected: Over budget", rejected.FailureReason)

	status, _ = do(t, app, call{
		method: http.MethodPost,
		path:   "/workflows/" + instanceID + "/steps/review/approve",
		tenant: testTenant,
		user:   "u1",
	})
	assert.Equal(t, http.StatusConflict, status)

	status, body = do(t, app, call{method: http.MethodGet, path: "/workflows/" + instanceID + "/approvals", tenant: testTenant})
	require.Equal(t, http.StatusOK, status)

	var approvals struct {
		Approvals []models.WorkflowApproval `json:"approvals"`
	}
	require.NoError(t, json.Unmarshal(body, &approvals))
	require.Len(t, approvals.Approvals, 1)
	assert.Equal(t, models.ApprovalStatusRejected, approvals.Approvals[0].Status)
}

func TestAPIHandlers_StartWorkflowErrors(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	tests := []struct {
		name           string
		body           any
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "missing fields",
			body:           web.StartWorkflowRequest{TemplateID: "x"},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "unknown template",
			body:           web.StartWorkflowRequest{TemplateID: "missing", EntityType: "project", EntityID: "p"},
			expectedStatus: http.StatusNotFound,
			expectedType:   "template_not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, app, call{method: http.MethodPost, path: "/workflows/start", body: tt.body, tenant: testTenant})
			assert.Equal(t, tt.expectedStatus, status, string(body))
			assert.Equal(t, tt.expectedType, problemType(t, body))

			var problem struct {
				Extensions struct {
					InstanceID string `json:"instanceId"`
				} `json:"extensions"`
			}
			require.NoError(t, json.Unmarshal(body, &problem))
			assert.Empty(t, problem.Extensions.InstanceID, "no instance is created")
		})
	}
}

func TestAPIHandlers_StartWorkflowReportsFailedInstance(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	misconfigured := approvalTemplate()
	misconfigured.Steps = []*models.WorkflowStepDef{{ID: "sign", Name: "Sign", Type: "signature"}}

	status, body := do(t, app, call{
		method: http.MethodPost,
		path:   "/workflows/start",
		body:   web.StartWorkflowRequest{TemplateID: createTemplate(t, app, misconfigured), EntityType: "project", EntityID: "p"},
		tenant: testTenant,
	})
	require.Equal(t, http.StatusUnprocessableEntity, status, string(body))

	var problem struct {
		Type       string `json:"type"`
		Extensions struct {
			InstanceID string `json:"instanceId"`
		} `json:"extensions"`
	}
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, "template_misconfigured", problem.Type)
	require.NotEmpty(t, problem.Extensions.InstanceID)

	instance := getInstance(t, app, problem.Extensions.InstanceID)
	assert.Equal(t, models.InstanceStatusFailed, instance.Status)
	assert.Equal(t, "Unknown step type: signature", instance.FailureReason)
}

func TestAPIHandlers_GetInstances(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	templateID := createTemplate(t, app, approvalTemplate())
	startWorkflow(t, app, templateID)
	startWorkflow(t, app, templateID)

	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expectedCount  int
	}{
		{name: "all", query: "", expectedStatus: http.StatusOK, expectedCount: 2},
		{name: "active", query: "?status=active", expectedStatus: http.StatusOK, expectedCount: 2},
		{name: "completed", query: "?status=completed", expectedStatus: http.StatusOK, expectedCount: 0},
		{name: "limit", query: "?limit=1", expectedStatus: http.StatusOK, expectedCount: 1},
		{name: "entity type", query: "?entity_type=expense", expectedStatus: http.StatusOK, expectedCount: 0},
		{name: "invalid status", query: "?status=archived", expectedStatus: http.StatusBadRequest},
		{name: "invalid limit", query: "?limit=ten", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, app, call{method: http.MethodGet, path: "/workflows" + tt.query, tenant: testTenant})
			require.Equal(t, tt.expectedStatus, status, string(body))

			if tt.expectedStatus != http.StatusOK {
				return
			}

			var list struct {
				Instances  []models.WorkflowInstance `json:"instances"`
				TotalCount int                       `json:"total_count"`
			}
			require.NoError(t, json.Unmarshal(body, &list))
			assert.Equal(t, tt.expectedCount, list.TotalCount)
			assert.Len(t, list.Instances, tt.expectedCount)
		})
	}

	status, body := do(t, app, call{method: http.MethodGet, path: "/workflows/missing", tenant: testTenant})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "instance_not_found", problemType(t, body))
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := do(t, app, call{method: http.MethodGet, path: "/health"})
	require.Equal(t, http.StatusOK, status)

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
}
