package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/engine"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timedApprovalStep(id string, minutes int, next ...string) *models.WorkflowStepDef {
	step := approvalStep(id, next...)
	step.TimeoutMinutes = minutes

	return step
}

func (f *fixture) dueTimeouts(t *testing.T) []*models.StepTimeout {
	t.Helper()

	due, err := f.persistence.TimeoutRepository().DueTimeouts(context.Background(), fixedNow.Add(24*time.Hour), 0)
	require.NoError(t, err)

	return due
}

func TestEngine_ApproveAdvancesToNextStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	templateID := f.createTemplate(t,
		approvalStep("manager", "finance"),
		approvalStep("finance"),
	)
	instanceID := f.start(t, templateID, nil)

	d := decision(instanceID, "manager")
	d.Comments = "Looks good"
	require.NoError(t, f.engine.ApproveStep(ctx, d))

	instance := f.instance(t, instanceID)
	assert.Equal(t, models.InstanceStatusActive, instance.Status)
	assert.Equal(t, "finance", instance.CurrentStep)

	approvals := f.approvals(t, instanceID)
	require.Len(t, approvals, 2)
	assert.Equal(t, models.ApprovalStatusApproved, approvals[0].Status)
	assert.Equal(t, "Looks good", approvals[0].Comments)
	assert.Equal(t, models.ApprovalStatusPending, approvals[1].Status)

	trail, err := f.engine.InstanceEvents(ctx, tenantID, instanceID)
	require.NoError(t, err)
	require.Len(t, trail, 4)
	assert.Equal(t, "Step approved by u1", trail[2].Description)
}

func TestEngine_RejectFailsWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	instanceID := f.start(t, f.createTemplate(t, timedApprovalStep("review", 60)), nil)
	require.Len(t, f.dueTimeouts(t), 1)

	d := decision(instanceID, "review")
	d.Comments = "Over budget"
	require.NoError(t, f.engine.RejectStep(ctx, d))

	instance := f.instance(t, instanceID)
	assert.Equal(t, models.InstanceStatusFailed, instance.Status)
	assert.Equal(t, "Workflow rejected: Over budget", instance.FailureReason)
	assert.Nil(t, instance.CompletedAt)

	approvals := f.approvals(t, instanceID)
	require.Len(t, approvals, 1)
	assert.Equal(t, models.ApprovalStatusRejected, approvals[0].Status)
	assert.Equal(t, "u1", approvals[0].RejectedBy)

	trail, err := f.engine.InstanceEvents(ctx, tenantID, instanceID)
	require.NoError(t, err)
	require.Len(t, trail, 4)
	assert.Equal(t, models.EventTypeRejected, trail[2].EventType)
	assert.Equal(t, "Step rejected by u1: Over budget", trail[2].Description)
	assert.Equal(t, models.EventTypeFailed, trail[3].EventType)

	assert.Empty(t, f.dueTimeouts(t), "rejection cancels the timeout")
}

func TestEngine_RejectThenApproveStaysFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	instanceID := f.start(t, f.createTemplate(t, approvalStep("review")), nil)

	require.NoError(t, f.engine.RejectStep(ctx, decision(instanceID, "review")))

	err := f.engine.ApproveStep(ctx, decision(instanceID, "review"))
	require.ErrorIs(t, err, engine.ErrInstanceNotActive)
	assert.True(t, engine.IsConflictError(err))

	instance := f.instance(t, instanceID)
	assert.Equal(t, models.InstanceStatusFailed, instance.Status)
	assert.Nil(t, instance.CompletedAt)
}

func TestEngine_DecisionGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	templateID := f.createTemplate(t,
		approvalStep("manager", "finance"),
		approvalStep("finance"),
	)
	instanceID := f.start(t, templateID, nil)

	tests := []struct {
		name     string
		decision engine.Decision
		wantErr  error
	}{
		{
			name:     "step is not current",
			decision: decision(instanceID, "finance"),
			wantErr:  engine.ErrStepNotCurrent,
		},
		{
			name:     "unknown instance",
			decision: decision("missing", "manager"),
			wantErr:  engine.ErrInstanceNotFound,
		},
		{
			name: "other tenant",
			decision: engine.Decision{
				TenantID:   "tenant-2",
				InstanceID: instanceID,
				StepID:     "manager",
				ActorID:    "u1",
			},
			wantErr: engine.ErrInstanceNotFound,
		},
		{
			name:     "missing actor",
			decision: engine.Decision{TenantID: tenantID, InstanceID: instanceID, StepID: "manager"},
			wantErr:  engine.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, f.engine.ApproveStep(ctx, tt.decision), tt.wantErr)
			require.ErrorIs(t, f.engine.RejectStep(ctx, tt.decision), tt.wantErr)
		})
	}

	instance := f.instance(t, instanceID)
	assert.Equal(t, models.InstanceStatusActive, instance.Status)
	assert.Equal(t, "manager", instance.CurrentStep)
}

func TestEngine_DuplicateApprovalDoesNotDoubleAdvance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	templateID := f.createTemplate(t,
		approvalStep("manager", "notify"),
		notificationStep("notify"),
	)
	instanceID := f.start(t, templateID, nil)

	const callers = 6

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := f.engine.ApproveStep(ctx, decision(instanceID, "manager")); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else {
				assert.True(t, engine.IsConflictError(err), err)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Len(t, f.sinks.notifications, 1)
	assert.Equal(t, models.InstanceStatusCompleted, f.instance(t, instanceID).Status)
}

func TestEngine_TimeoutRacingApprovalHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	templateID := f.createTemplate(t,
		timedApprovalStep("manager", 30, "notify"),
		notificationStep("notify"),
	)

	const rounds = 20

	approvedRounds := 0

	for range rounds {
		instanceID := f.start(t, templateID, nil)

		due := f.dueTimeouts(t)
		require.Len(t, due, 1)

		var (
			wg         sync.WaitGroup
			approveErr error
			timeoutErr error
		)

		wg.Add(2)

		go func() {
			defer wg.Done()

			approveErr = f.engine.ApproveStep(ctx, decision(instanceID, "manager"))
		}()

		go func() {
			defer wg.Done()

			timeoutErr = f.engine.HandleStepTimeout(ctx, due[0])
		}()

		wg.Wait()

		require.NoError(t, timeoutErr)

		instance := f.instance(t, instanceID)
		approvals := f.approvals(t, instanceID)
		require.Len(t, approvals, 1)

		if approveErr == nil {
			approvedRounds++

			assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
			assert.Equal(t, models.ApprovalStatusApproved, approvals[0].Status)
		} else {
			assert.True(t, engine.IsConflictError(approveErr), approveErr)
			assert.Equal(t, models.InstanceStatusFailed, instance.Status)
			assert.Equal(t, "Step timeout exceeded", instance.FailureReason)
			assert.Equal(t, models.ApprovalStatusRejected, approvals[0].Status)
			assert.Equal(t, models.TimeoutDecider, approvals[0].RejectedBy)
		}

		assert.Empty(t, f.dueTimeouts(t))
	}

	assert.Len(t, f.sinks.notifications, approvedRounds, "only winning approvals advance")
}

func TestEngine_TimeoutIsScheduled(t *testing.T) {
	f := newFixture(t)

	instanceID := f.start(t, f.createTemplate(t, timedApprovalStep("review", 90)), nil)

	due := f.dueTimeouts(t)
	require.Len(t, due, 1)
	assert.Equal(t, instanceID, due[0].InstanceID)
	assert.Equal(t, "review", due[0].StepID)
	assert.Equal(t, tenantID, due[0].TenantID)
	assert.True(t, due[0].DueAt.Equal(fixedNow.Add(90*time.Minute)))
}

func TestEngine_HandleStepTimeout_FailsPendingApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	instanceID := f.start(t, f.createTemplate(t, timedApprovalStep("review", 60)), nil)

	due := f.dueTimeouts(t)
	require.Len(t, due, 1)
	require.NoError(t, f.engine.HandleStepTimeout(ctx, due[0]))

	instance := f.instance(t, instanceID)
	assert.Equal(t, models.InstanceStatusFailed, instance.Status)
	assert.Equal(t, "Step timeout exceeded", instance.FailureReason)

	approvals := f.approvals(t, instanceID)
	require.Len(t, approvals, 1)
	assert.Equal(t, models.ApprovalStatusRejected, approvals[0].Status)
	assert.Equal(t, models.TimeoutDecider, approvals[0].RejectedBy)

	assert.Empty(t, f.dueTimeouts(t))

	err := f.engine.ApproveStep(ctx, decision(instanceID, "review"))
	require.ErrorIs(t, err, engine.ErrInstanceNotActive)
}

func TestEngine_HandleStepTimeout_AfterApprovalIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	templateID := f.createTemplate(t,
		timedApprovalStep("manager", 60, "finance"),
		approvalStep("finance"),
	)
	instanceID := f.start(t, templateID, nil)

	stale := f.dueTimeouts(t)
	require.Len(t, stale, 1)

	require.NoError(t, f.engine.ApproveStep(ctx, decision(instanceID, "manager")))
	assert.Empty(t, f.dueTimeouts(t), "approval cancels the timeout")

	require.NoError(t, f.engine.HandleStepTimeout(ctx, stale[0]))

	instance := f.instance(t, instanceID)
	assert.Equal(t, models.InstanceStatusActive, instance.Status)
	assert.Equal(t, "finance", instance.CurrentStep)

	approvals := f.approvals(t, instanceID)
	require.Len(t, approvals, 2)
	assert.Equal(t, models.ApprovalStatusApproved, approvals[0].Status)
	assert.Equal(t, models.ApprovalStatusPending, approvals[1].Status)
}

func TestEngine_HandleStepTimeout_UnknownInstance(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.engine.HandleStepTimeout(context.Background(), &models.StepTimeout{
		TenantID:   tenantID,
		InstanceID: "missing",
		StepID:     "review",
		DueAt:      fixedNow,
	}))
}
