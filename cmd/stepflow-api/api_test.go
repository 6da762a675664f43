package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	ctx := context.Background()

	runtime, err := cmd.NewRuntime(ctx, slog.Default(), cmd.RuntimeOptions{
		ServiceName: "stepflow-api-test",
		DatabaseURL: "file://" + t.TempDir(),
		EventBus:    "gochannel",
	})
	require.NoError(t, err)
	t.Cleanup(func() { runtime.Close(ctx) })

	return NewAPI(slog.Default(), runtime.Engine, runtime.HealthCheckers()).App()
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return body
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Stepflow API", string(readBody(t, resp)))
}

func TestAPI_Liveness(t *testing.T) {
	app := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(readBody(t, resp)))
}

func TestAPI_HealthReportsBackends(t *testing.T) {
	app := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status   string            `json:"status"`
		Checkers map[string]string `json:"checkers"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "3 actions registered", health.Checkers["registry"])
	assert.Equal(t, "ok", health.Checkers["persistence"])
}

func TestAPI_TenantRequired(t *testing.T) {
	app := setupTestApp(t)

	for _, path := range []string{"/templates", "/workflows", "/approvals/pending"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		readBody(t, resp)
	}
}

func TestAPI_WorkflowLifecycle(t *testing.T) {
	app := setupTestApp(t)

	send := func(method, path string, body any) *http.Response {
		t.Helper()

		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			require.NoError(t, err)

			reader = bytes.NewReader(payload)
		}

		req := httptest.NewRequest(method, path, reader)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(web.TenantHeader, "acme")
		req.Header.Set(web.UserHeader, "pm-1")

		resp, err := app.Test(req)
		require.NoError(t, err)

		return resp
	}

	resp := send(http.MethodPost, "/templates", web.CreateTemplateRequest{
		Name: "Expense approval",
		Steps: []*models.WorkflowStepDef{
			{
				ID:        "notify",
				Name:      "Notify PM",
				Type:      models.StepTypeNotification,
				Config:    map[string]any{"title": "Expense {{entityId}}", "message": "Amount {{amount}}"},
				Assignee:  "pm-1",
				NextSteps: []string{"approve"},
			},
			{
				ID:             "approve",
				Name:           "PM approval",
				Type:           models.StepTypeApproval,
				Assignee:       "pm-1",
				TimeoutMinutes: 60,
				NextSteps:      []string{"paid"},
			},
			{
				ID:     "paid",
				Name:   "Mark approved",
				Type:   models.StepTypeAutomation,
				Config: map[string]any{"action": "update_status", "newStatus": "approved"},
			},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var template models.WorkflowTemplate
	require.NoError(t, json.Unmarshal(readBody(t, resp), &template))

	resp = send(http.MethodPost, "/workflows/start", web.StartWorkflowRequest{
		TemplateID: template.ID,
		EntityType: "expense",
		EntityID:   "exp-7",
		Context:    map[string]any{"amount": 420},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var started web.StartWorkflowResponse
	require.NoError(t, json.Unmarshal(readBody(t, resp), &started))

	resp = send(http.MethodGet, "/approvals/pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var inbox struct {
		TotalCount int `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &inbox))
	assert.Equal(t, 1, inbox.TotalCount)

	resp = send(http.MethodPost, "/workflows/"+started.InstanceID+"/steps/approve/approve", web.ApproveStepRequest{Comments: "fine"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var instance models.WorkflowInstance
	require.NoError(t, json.Unmarshal(readBody(t, resp), &instance))
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Equal(t, "paid", instance.CurrentStep)
}
