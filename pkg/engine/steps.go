package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/stepflow/pkg/condition"
	"github.com/dukex/stepflow/pkg/interpolate"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultNotificationType  = "workflow"
	defaultNotificationTitle = "Workflow Notification"
)

type outcomeKind int

const (
	outcomeAdvance outcomeKind = iota
	outcomeSuspend
	outcomeBranch
	outcomeFail
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeAdvance:
		return "advance"
	case outcomeSuspend:
		return "suspend"
	case outcomeBranch:
		return "branch"
	case outcomeFail:
		return "fail"
	default:
		return "unknown"
	}
}

// outcome is what a step handler decided. target is only set for branches; reason and
// cause only for failures.
type outcome struct {
	kind   outcomeKind
	target string
	reason string
	cause  error
}

func advance() outcome { return outcome{kind: outcomeAdvance} }

func suspend() outcome { return outcome{kind: outcomeSuspend} }

func branchTo(target string) outcome { return outcome{kind: outcomeBranch, target: target} }

func fail(reason string, cause error) outcome {
	return outcome{kind: outcomeFail, reason: reason, cause: cause}
}

// stepHandler executes one step type. A returned error is a storage failure and aborts
// the call; failures of the step itself are reported through the outcome.
type stepHandler interface {
	execute(ctx context.Context, template *models.WorkflowTemplate, instance *models.WorkflowInstance, step *models.WorkflowStepDef) (outcome, error)
}

// approvalHandler opens a pending approval for the step assignee and suspends.
type approvalHandler struct {
	engine *Engine
}

func (h *approvalHandler) execute(ctx context.Context, _ *models.WorkflowTemplate, instance *models.WorkflowInstance, step *models.WorkflowStepDef) (outcome, error) {
	now := h.engine.now()

	approval := &models.WorkflowApproval{
		ID:         uuid.NewString(),
		InstanceID: instance.ID,
		StepID:     step.ID,
		Assignee:   step.Assignee,
		Status:     models.ApprovalStatusPending,
		TenantID:   instance.TenantID,
		CreatedAt:  now,
	}

	if err := h.engine.approvals.CreateApproval(ctx, approval); err != nil {
		return outcome{}, fmt.Errorf("failed to create approval: %w", err)
	}

	if step.TimeoutMinutes > 0 {
		timeout := &models.StepTimeout{
			TenantID:   instance.TenantID,
			InstanceID: instance.ID,
			StepID:     step.ID,
			DueAt:      now.Add(time.Duration(step.TimeoutMinutes) * time.Minute),
			CreatedAt:  now,
		}

		if err := h.engine.timeouts.ScheduleTimeout(ctx, timeout); err != nil {
			return outcome{}, fmt.Errorf("failed to schedule step timeout: %w", err)
		}
	}

	return suspend(), nil
}

// notificationHandler sends one notification to the step assignee and advances.
type notificationHandler struct {
	engine *Engine
}

func (h *notificationHandler) execute(ctx context.Context, _ *models.WorkflowTemplate, instance *models.WorkflowInstance, step *models.WorkflowStepDef) (outcome, error) {
	notificationType := step.ConfigString("notificationType")
	if notificationType == "" {
		notificationType = defaultNotificationType
	}

	title := step.ConfigString("title")
	if title == "" {
		title = defaultNotificationTitle
	}

	notification := &models.Notification{
		ID:        uuid.NewString(),
		Type:      notificationType,
		Title:     interpolate.Render(title, instance.Context),
		Message:   interpolate.Render(step.ConfigString("message"), instance.Context),
		Recipient: step.Assignee,
		Metadata:  map[string]any{"workflowInstanceId": instance.ID},
		TenantID:  instance.TenantID,
	}

	if err := h.engine.notifications.CreateNotification(ctx, notification); err != nil {
		return fail("Notification step failed: "+err.Error(), errors.Join(ErrNotificationFailure, err)), nil
	}

	return advance(), nil
}

// automationHandler runs the registered action named by config.action and advances on success.
// An action name nobody registered is skipped with a warning.
type automationHandler struct {
	engine *Engine
}

func (h *automationHandler) execute(ctx context.Context, _ *models.WorkflowTemplate, instance *models.WorkflowInstance, step *models.WorkflowStepDef) (outcome, error) {
	actionID := step.ConfigString("action")
	logger := log.FromContext(ctx, h.engine.instanceLogger(instance)).With("step_id", step.ID, "action", actionID)

	trace.SpanFromContext(ctx).SetAttributes(attribute.String(otelhelper.ActionKey, actionID))

	action, err := h.engine.actions.CreateAction(ctx, actionID, step.Config)
	if errors.Is(err, registry.ErrActionNotRegistered) {
		logger.WarnContext(ctx, "Unknown automation action, skipping")

		return advance(), nil
	}

	if err == nil {
		err = action.Execute(ctx, instance, logger)
	}

	if err != nil {
		return fail("Automation step failed: "+err.Error(), errors.Join(ErrActionFailure, err)), nil
	}

	return advance(), nil
}

// conditionHandler branches on the instance context. An unset branch completes the workflow.
type conditionHandler struct{}

func (*conditionHandler) execute(_ context.Context, _ *models.WorkflowTemplate, instance *models.WorkflowInstance, step *models.WorkflowStepDef) (outcome, error) {
	if step.Conditions == nil {
		return fail("Condition step has no conditions", ErrInvalidCondition), nil
	}

	target, _ := condition.Select(step.Conditions, instance.Context)

	return branchTo(target), nil
}
