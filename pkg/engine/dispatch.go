package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// run dispatches step and every step it leads to, until the instance suspends at an
// approval, completes or fails.
func (e *Engine) run(ctx context.Context, template *models.WorkflowTemplate, instance *models.WorkflowInstance, step *models.WorkflowStepDef) error {
	for depth := 1; step != nil; depth++ {
		if depth > e.maxChainDepth {
			err := &StepError{Op: "run", InstanceID: instance.ID, StepID: step.ID, Err: ErrChainDepthExceeded}
			reason := fmt.Sprintf("Step chain exceeded %d steps", e.maxChainDepth)

			if failErr := e.failWorkflow(ctx, instance, step.ID, reason, err); failErr != nil {
				return errors.Join(err, failErr)
			}

			return err
		}

		next, err := e.dispatch(ctx, template, instance, step)
		if err != nil {
			return err
		}

		step = next
	}

	return nil
}

// dispatch executes one step and returns the step to continue with, or nil when the
// instance suspended or reached a terminal status.
func (e *Engine) dispatch(ctx context.Context, template *models.WorkflowTemplate, instance *models.WorkflowInstance, step *models.WorkflowStepDef) (*models.WorkflowStepDef, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.dispatch",
		attribute.String(otelhelper.TenantIDKey, instance.TenantID),
		attribute.String(otelhelper.InstanceIDKey, instance.ID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
	)
	defer span.End()

	logger := e.instanceLogger(instance).With("step_id", step.ID, "step_type", step.Type)

	handler, ok := e.handlers[step.Type]
	if !ok {
		err := &StepError{
			Op:         "dispatch",
			InstanceID: instance.ID,
			StepID:     step.ID,
			Err:        fmt.Errorf("%w: %q", ErrUnknownStepType, step.Type),
		}
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Unknown step type")

		if failErr := e.failWorkflow(ctx, instance, step.ID, fmt.Sprintf("Unknown step type: %s", step.Type), err); failErr != nil {
			return nil, errors.Join(err, failErr)
		}

		return nil, err
	}

	logger.DebugContext(ctx, "Dispatching step")

	result, err := handler.execute(ctx, template, instance, step)
	if err != nil {
		err = &StepError{Op: "dispatch", InstanceID: instance.ID, StepID: step.ID, Err: err}
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.OutcomeKey, result.kind.String()))

	if result.kind == outcomeFail {
		otelhelper.SetError(span, result.cause)
		logger.WarnContext(ctx, "Step failed", "reason", result.reason, "error", result.cause)

		if err := e.logEvent(ctx, instance, models.EventTypeStepFailed, result.reason); err != nil {
			return nil, err
		}

		return nil, e.failWorkflow(ctx, instance, step.ID, result.reason, result.cause)
	}

	if err := e.logEvent(ctx, instance, models.EventTypeStepExecuted, "Step executed: "+step.Name); err != nil {
		return nil, err
	}

	switch result.kind {
	case outcomeSuspend:
		logger.DebugContext(ctx, "Workflow waiting for approval")

		return nil, nil
	case outcomeBranch:
		return e.moveTo(ctx, template, instance, step.ID, result.target)
	default:
		return e.moveToNextStep(ctx, template, instance, step)
	}
}

// moveToNextStep follows nextSteps[0]; further entries are never used. A step without
// successors completes the workflow.
func (e *Engine) moveToNextStep(ctx context.Context, template *models.WorkflowTemplate, instance *models.WorkflowInstance, step *models.WorkflowStepDef) (*models.WorkflowStepDef, error) {
	target := ""
	if len(step.NextSteps) > 0 {
		target = step.NextSteps[0]
	}

	return e.moveTo(ctx, template, instance, step.ID, target)
}

// moveTo positions the instance at target, or completes it when target does not name a step.
func (e *Engine) moveTo(ctx context.Context, template *models.WorkflowTemplate, instance *models.WorkflowInstance, from, target string) (*models.WorkflowStepDef, error) {
	next, ok := template.Step(target)
	if !ok {
		if target != "" {
			e.instanceLogger(instance).WarnContext(ctx, "Next step not found in template, completing workflow",
				"step_id", from,
				"next_step", target,
			)
		}

		return nil, e.completeWorkflow(ctx, instance, from)
	}

	if err := e.transition(ctx, instance, from, persistence.InstanceChange{CurrentStep: next.ID}); err != nil {
		return nil, err
	}

	return next, nil
}

func (e *Engine) completeWorkflow(ctx context.Context, instance *models.WorkflowInstance, from string) error {
	completedAt := e.now()

	err := e.transition(ctx, instance, from, persistence.InstanceChange{
		Status:      models.InstanceStatusCompleted,
		CompletedAt: &completedAt,
	})
	if err != nil {
		return err
	}

	e.instanceLogger(instance).InfoContext(ctx, "Workflow completed")

	return e.logEvent(ctx, instance, models.EventTypeCompleted, "Workflow completed successfully")
}

// failWorkflow moves an instance positioned at stepID to failed. completedAt is left unset.
func (e *Engine) failWorkflow(ctx context.Context, instance *models.WorkflowInstance, stepID, reason string, cause error) error {
	err := e.transition(ctx, instance, stepID, persistence.InstanceChange{
		Status:        models.InstanceStatusFailed,
		FailureReason: reason,
	})
	if err != nil {
		return err
	}

	e.instanceLogger(instance).WarnContext(ctx, "Workflow failed",
		"step_id", stepID,
		"reason", reason,
		"error", cause,
	)

	return e.logEvent(ctx, instance, models.EventTypeFailed, reason)
}

// transition applies change only if the stored instance is still active at from, and
// refreshes instance with the stored result.
func (e *Engine) transition(ctx context.Context, instance *models.WorkflowInstance, from string, change persistence.InstanceChange) error {
	updated, err := e.instances.TransitionInstance(ctx, instance.TenantID, instance.ID, persistence.InstanceGuard{CurrentStep: from}, change)
	if err != nil {
		return err
	}

	*instance = *updated

	return nil
}

// logEvent appends an audit entry and mirrors it to the event bus. Bus failures are
// logged and otherwise ignored.
func (e *Engine) logEvent(ctx context.Context, instance *models.WorkflowInstance, eventType models.EventType, description string) error {
	event := &models.WorkflowEvent{
		ID:          uuid.Must(uuid.NewV7()).String(),
		InstanceID:  instance.ID,
		EventType:   eventType,
		Description: description,
		TenantID:    instance.TenantID,
		Timestamp:   e.now(),
	}

	if err := e.events.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to append %s event: %w", eventType, err)
	}

	if e.publisher == nil {
		return nil
	}

	if err := e.publisher.Publish(ctx, instance.ID, events.NewWorkflowAudit(event)); err != nil {
		e.instanceLogger(instance).WarnContext(ctx, "Failed to publish workflow event",
			"event_type", eventType,
			"error", err,
		)
	}

	return nil
}
