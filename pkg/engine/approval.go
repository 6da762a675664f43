package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const timeoutReason = "Step timeout exceeded"

// Decision is a human verdict on the approval step an instance is waiting at.
type Decision struct {
	TenantID   string `validate:"required"`
	InstanceID string `validate:"required"`
	StepID     string `validate:"required"`
	ActorID    string `validate:"required"`
	// Comments of an approval, or the reason of a rejection.
	Comments string
}

// ApproveStep records the approval and advances the instance past the step.
// It fails with ErrInstanceNotActive, ErrStepNotCurrent or ErrApprovalNotPending when
// the instance is not waiting at that step any more.
func (e *Engine) ApproveStep(ctx context.Context, decision Decision) error {
	ctx, span := e.decisionSpan(ctx, "engine.ApproveStep", decision)
	defer span.End()

	template, instance, step, err := e.claim(ctx, decision, models.ApprovalStatusApproved)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	if err := e.logEvent(ctx, instance, models.EventTypeApproved, "Step approved by "+decision.ActorID); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	e.cancelTimeout(ctx, instance, step.ID)

	next, err := e.moveToNextStep(ctx, template, instance, step)
	if err == nil {
		err = e.run(ctx, template, instance, next)
	}

	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	return nil
}

// RejectStep records the rejection and fails the instance. Rejection is terminal.
func (e *Engine) RejectStep(ctx context.Context, decision Decision) error {
	ctx, span := e.decisionSpan(ctx, "engine.RejectStep", decision)
	defer span.End()

	_, instance, step, err := e.claim(ctx, decision, models.ApprovalStatusRejected)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	description := fmt.Sprintf("Step rejected by %s: %s", decision.ActorID, decision.Comments)
	if err := e.logEvent(ctx, instance, models.EventTypeRejected, description); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	e.cancelTimeout(ctx, instance, step.ID)

	if err := e.failWorkflow(ctx, instance, step.ID, "Workflow rejected: "+decision.Comments, nil); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	return nil
}

// claim checks that the instance waits at the decided step and moves its pending
// approval to status. Only one caller can claim a given approval.
func (e *Engine) claim(ctx context.Context, decision Decision, status models.ApprovalStatus) (*models.WorkflowTemplate, *models.WorkflowInstance, *models.WorkflowStepDef, error) {
	if err := e.validate.Struct(decision); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	instance, err := e.instances.InstanceByID(ctx, decision.TenantID, decision.InstanceID)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := checkWaitingAt(instance, decision.StepID); err != nil {
		return nil, nil, nil, err
	}

	template, err := e.template(ctx, instance.TenantID, instance.TemplateID)
	if err != nil {
		return nil, nil, nil, err
	}

	step, ok := template.Step(decision.StepID)
	if !ok {
		return nil, nil, nil, &StepError{Op: "decide", InstanceID: instance.ID, StepID: decision.StepID, Err: ErrStepNotFound}
	}

	_, err = e.approvals.DecideApproval(ctx, instance.TenantID, instance.ID, step.ID, models.ApprovalDecision{
		Status:    status,
		DecidedBy: decision.ActorID,
		Comments:  decision.Comments,
		DecidedAt: e.now(),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	e.instanceLogger(instance).InfoContext(ctx, "Approval decided",
		"step_id", step.ID,
		"status", status,
		"actor", decision.ActorID,
	)

	return template, instance, step, nil
}

// HandleStepTimeout fails the instance when the approval guarded by timeout is still
// pending. It is a no-op when the approval was decided or the instance moved on.
// The timeout record is removed in every case except a storage error.
func (e *Engine) HandleStepTimeout(ctx context.Context, timeout *models.StepTimeout) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.HandleStepTimeout",
		attribute.String(otelhelper.TenantIDKey, timeout.TenantID),
		attribute.String(otelhelper.InstanceIDKey, timeout.InstanceID),
		attribute.String(otelhelper.StepIDKey, timeout.StepID),
	)
	defer span.End()

	logger := e.logger.With("instance_id", timeout.InstanceID, "tenant_id", timeout.TenantID, "step_id", timeout.StepID)

	err := e.expire(ctx, timeout)

	switch {
	case err == nil:
		logger.InfoContext(ctx, "Approval timed out, workflow failed")
	case errors.Is(err, ErrInstanceNotFound),
		errors.Is(err, ErrApprovalNotFound),
		errors.Is(err, ErrApprovalNotPending),
		errors.Is(err, ErrInstanceNotActive),
		errors.Is(err, ErrStepNotCurrent),
		errors.Is(err, persistence.ErrInstanceConflict):
		logger.DebugContext(ctx, "Step timeout no longer applies", "reason", err)
	default:
		otelhelper.SetError(span, err)

		return err
	}

	if err := e.timeouts.CancelTimeout(ctx, timeout.TenantID, timeout.InstanceID, timeout.StepID); err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to remove step timeout: %w", err)
	}

	return nil
}

func (e *Engine) expire(ctx context.Context, timeout *models.StepTimeout) error {
	instance, err := e.instances.InstanceByID(ctx, timeout.TenantID, timeout.InstanceID)
	if err != nil {
		return err
	}

	if err := checkWaitingAt(instance, timeout.StepID); err != nil {
		return err
	}

	_, err = e.approvals.DecideApproval(ctx, timeout.TenantID, timeout.InstanceID, timeout.StepID, models.ApprovalDecision{
		Status:    models.ApprovalStatusRejected,
		DecidedBy: models.TimeoutDecider,
		Comments:  timeoutReason,
		DecidedAt: e.now(),
	})
	if err != nil {
		return err
	}

	return e.failWorkflow(ctx, instance, timeout.StepID, timeoutReason, ErrTimeoutExceeded)
}

func (e *Engine) cancelTimeout(ctx context.Context, instance *models.WorkflowInstance, stepID string) {
	if err := e.timeouts.CancelTimeout(ctx, instance.TenantID, instance.ID, stepID); err != nil {
		e.instanceLogger(instance).WarnContext(ctx, "Failed to cancel step timeout",
			"step_id", stepID,
			"error", err,
		)
	}
}

func (e *Engine) decisionSpan(ctx context.Context, name string, decision Decision) (context.Context, trace.Span) {
	return otelhelper.StartSpan(ctx, e.tracer, name,
		attribute.String(otelhelper.TenantIDKey, decision.TenantID),
		attribute.String(otelhelper.InstanceIDKey, decision.InstanceID),
		attribute.String(otelhelper.StepIDKey, decision.StepID),
	)
}

func checkWaitingAt(instance *models.WorkflowInstance, stepID string) error {
	if instance.Status != models.InstanceStatusActive {
		return &StepError{Op: "decide", InstanceID: instance.ID, StepID: stepID, Err: ErrInstanceNotActive}
	}

	if instance.CurrentStep != stepID {
		return &StepError{Op: "decide", InstanceID: instance.ID, StepID: stepID, Err: ErrStepNotCurrent}
	}

	return nil
}
