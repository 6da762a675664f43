// Package persistencetest holds the behaviour every persistence backend must share.
package persistencetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) persistence.Persistence

// Run exercises p against the repository contracts.
func Run(t *testing.T, newPersistence Factory) {
	t.Helper()

	t.Run("templates", func(t *testing.T) { testTemplates(t, newPersistence(t)) })
	t.Run("instances", func(t *testing.T) { testInstances(t, newPersistence(t)) })
	t.Run("transition conflict", func(t *testing.T) { testTransitionConflict(t, newPersistence(t)) })
	t.Run("concurrent transitions", func(t *testing.T) { testConcurrentTransitions(t, newPersistence(t)) })
	t.Run("approvals", func(t *testing.T) { testApprovals(t, newPersistence(t)) })
	t.Run("events", func(t *testing.T) { testEvents(t, newPersistence(t)) })
	t.Run("timeouts", func(t *testing.T) { RunTimeouts(t, newPersistence(t).TimeoutRepository()) })
}

// Template builds a two step template for tenantID.
func Template(tenantID string) *models.WorkflowTemplate {
	return &models.WorkflowTemplate{
		ID:          uuid.NewString(),
		Name:        "Expense approval",
		Description: "Approve expenses over budget",
		TriggerType: "manual",
		IsActive:    true,
		TenantID:    tenantID,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
		Steps: []*models.WorkflowStepDef{
			{
				ID:             "review",
				Name:           "Manager review",
				Type:           models.StepTypeApproval,
				Assignee:       "manager-1",
				NextSteps:      []string{"notify"},
				TimeoutMinutes: 60,
			},
			{
				ID:        "notify",
				Name:      "Notify requester",
				Type:      models.StepTypeNotification,
				Config:    map[string]any{"message": "Expense {{expenseId}} approved"},
				NextSteps: []string{},
				Conditions: &models.StepCondition{
					Field:    "amount",
					Operator: models.OperatorGreaterThan,
					Value:    float64(100),
				},
			},
		},
	}
}

// Instance builds an active instance of template positioned at its first step.
func Instance(template *models.WorkflowTemplate, startedAt time.Time) *models.WorkflowInstance {
	return &models.WorkflowInstance{
		ID:          uuid.NewString(),
		TemplateID:  template.ID,
		EntityType:  "expense",
		EntityID:    uuid.NewString(),
		CurrentStep: template.Steps[0].ID,
		Status:      models.InstanceStatusActive,
		Context:     map[string]any{"amount": float64(250), "expenseId": "exp-1"},
		AssignedTo:  template.Steps[0].Assignee,
		TenantID:    template.TenantID,
		StartedAt:   startedAt.UTC().Truncate(time.Millisecond),
	}
}

func testTemplates(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.TemplateRepository()

	template := Template("tenant-a")
	require.NoError(t, repo.SaveTemplate(ctx, template))

	got, err := repo.TemplateByID(ctx, "tenant-a", template.ID)
	require.NoError(t, err)
	assert.Equal(t, template.Name, got.Name)
	assert.Equal(t, template.Description, got.Description)
	assert.True(t, got.IsActive)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, []string{"notify"}, got.Steps[0].NextSteps)
	assert.Equal(t, 60, got.Steps[0].TimeoutMinutes)
	assert.Equal(t, "Expense {{expenseId}} approved", got.Steps[1].Config["message"])
	require.NotNil(t, got.Steps[1].Conditions)
	assert.InDelta(t, 100.0, got.Steps[1].Conditions.Value, 0)

	_, err = repo.TemplateByID(ctx, "tenant-b", template.ID)
	require.ErrorIs(t, err, persistence.ErrTemplateNotFound)

	_, err = repo.TemplateByID(ctx, "tenant-a", uuid.NewString())
	require.ErrorIs(t, err, persistence.ErrTemplateNotFound)

	list, err := repo.Templates(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = repo.Templates(ctx, "tenant-b")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testInstances(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.InstanceRepository()

	template := Template("tenant-a")
	require.NoError(t, p.TemplateRepository().SaveTemplate(ctx, template))

	base := time.Now()
	older := Instance(template, base.Add(-time.Hour))
	newer := Instance(template, base)
	newer.EntityType = "project"
	newer.Status = models.InstanceStatusCompleted

	require.NoError(t, repo.CreateInstance(ctx, older))
	require.NoError(t, repo.CreateInstance(ctx, newer))

	got, err := repo.InstanceByID(ctx, "tenant-a", older.ID)
	require.NoError(t, err)
	assert.Equal(t, older.CurrentStep, got.CurrentStep)
	assert.Equal(t, "Expense approval", got.TemplateName)
	assert.Equal(t, "manager-1", got.AssignedTo)
	assert.InDelta(t, 250.0, got.Context["amount"], 0)
	assert.Nil(t, got.CompletedAt)

	_, err = repo.InstanceByID(ctx, "tenant-b", older.ID)
	require.ErrorIs(t, err, persistence.ErrInstanceNotFound)

	all, err := repo.Instances(ctx, "tenant-a", persistence.InstanceFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID)
	assert.Equal(t, older.ID, all[1].ID)
	assert.Equal(t, "Expense approval", all[0].TemplateName)

	active, err := repo.Instances(ctx, "tenant-a", persistence.InstanceFilter{Status: models.InstanceStatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, older.ID, active[0].ID)

	projects, err := repo.Instances(ctx, "tenant-a", persistence.InstanceFilter{EntityType: "project"})
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, newer.ID, projects[0].ID)

	limited, err := repo.Instances(ctx, "tenant-a", persistence.InstanceFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := repo.Instances(ctx, "tenant-b", persistence.InstanceFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testTransitionConflict(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.InstanceRepository()

	template := Template("tenant-a")
	require.NoError(t, p.TemplateRepository().SaveTemplate(ctx, template))

	instance := Instance(template, time.Now())
	require.NoError(t, repo.CreateInstance(ctx, instance))

	moved, err := repo.TransitionInstance(ctx, "tenant-a", instance.ID,
		persistence.InstanceGuard{CurrentStep: "review"},
		persistence.InstanceChange{CurrentStep: "notify"})
	require.NoError(t, err)
	assert.Equal(t, "notify", moved.CurrentStep)
	assert.Equal(t, models.InstanceStatusActive, moved.Status)

	_, err = repo.TransitionInstance(ctx, "tenant-a", instance.ID,
		persistence.InstanceGuard{CurrentStep: "review"},
		persistence.InstanceChange{CurrentStep: "notify"})
	require.ErrorIs(t, err, persistence.ErrInstanceConflict)

	completedAt := time.Now().UTC().Truncate(time.Millisecond)
	done, err := repo.TransitionInstance(ctx, "tenant-a", instance.ID,
		persistence.InstanceGuard{CurrentStep: "notify"},
		persistence.InstanceChange{Status: models.InstanceStatusCompleted, CompletedAt: &completedAt})
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.WithinDuration(t, completedAt, *done.CompletedAt, time.Millisecond)

	_, err = repo.TransitionInstance(ctx, "tenant-a", instance.ID,
		persistence.InstanceGuard{CurrentStep: "notify"},
		persistence.InstanceChange{Status: models.InstanceStatusFailed, FailureReason: "late"})
	require.ErrorIs(t, err, persistence.ErrInstanceConflict)

	_, err = repo.TransitionInstance(ctx, "tenant-a", uuid.NewString(),
		persistence.InstanceGuard{CurrentStep: "review"},
		persistence.InstanceChange{CurrentStep: "notify"})
	require.ErrorIs(t, err, persistence.ErrInstanceNotFound)

	stored, err := repo.InstanceByID(ctx, "tenant-a", instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, stored.Status)
	assert.Empty(t, stored.FailureReason)
}

func testConcurrentTransitions(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.InstanceRepository()

	template := Template("tenant-a")
	require.NoError(t, p.TemplateRepository().SaveTemplate(ctx, template))

	instance := Instance(template, time.Now())
	require.NoError(t, repo.CreateInstance(ctx, instance))

	const writers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)

	for range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := repo.TransitionInstance(ctx, "tenant-a", instance.ID,
				persistence.InstanceGuard{CurrentStep: "review"},
				persistence.InstanceChange{Status: models.InstanceStatusFailed, FailureReason: "race"})

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				successes++
			case persistence.IsInstanceConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, writers-1, conflicts)
}

func testApprovals(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.ApprovalRepository()

	template := Template("tenant-a")
	require.NoError(t, p.TemplateRepository().SaveTemplate(ctx, template))

	instance := Instance(template, time.Now())
	require.NoError(t, p.InstanceRepository().CreateInstance(ctx, instance))

	approval := &models.WorkflowApproval{
		ID:         uuid.NewString(),
		InstanceID: instance.ID,
		StepID:     "review",
		Assignee:   "manager-1",
		Status:     models.ApprovalStatusPending,
		TenantID:   "tenant-a",
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, repo.CreateApproval(ctx, approval))

	pending, err := repo.PendingApprovals(ctx, "tenant-a", "manager-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, approval.ID, pending[0].ID)

	pending, err = repo.PendingApprovals(ctx, "tenant-a", "")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	pending, err = repo.PendingApprovals(ctx, "tenant-a", "someone-else")
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = repo.DecideApproval(ctx, "tenant-a", instance.ID, "other-step", models.ApprovalDecision{
		Status: models.ApprovalStatusApproved, DecidedBy: "u1", DecidedAt: time.Now(),
	})
	require.ErrorIs(t, err, persistence.ErrApprovalNotFound)

	decidedAt := time.Now().UTC().Truncate(time.Millisecond)
	decided, err := repo.DecideApproval(ctx, "tenant-a", instance.ID, "review", models.ApprovalDecision{
		Status: models.ApprovalStatusApproved, DecidedBy: "u1", Comments: "ok", DecidedAt: decidedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, decided.Status)
	assert.Equal(t, "u1", decided.ApprovedBy)
	assert.Equal(t, "ok", decided.Comments)
	require.NotNil(t, decided.ApprovedAt)

	_, err = repo.DecideApproval(ctx, "tenant-a", instance.ID, "review", models.ApprovalDecision{
		Status: models.ApprovalStatusRejected, DecidedBy: "u2", DecidedAt: time.Now(),
	})
	require.ErrorIs(t, err, persistence.ErrApprovalNotPending)

	all, err := repo.ApprovalsByInstance(ctx, "tenant-a", instance.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.ApprovalStatusApproved, all[0].Status)
	assert.Empty(t, all[0].RejectedBy)

	pending, err = repo.PendingApprovals(ctx, "tenant-a", "manager-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func testEvents(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	repo := p.EventRepository()

	template := Template("tenant-a")
	require.NoError(t, p.TemplateRepository().SaveTemplate(ctx, template))

	instance := Instance(template, time.Now())
	require.NoError(t, p.InstanceRepository().CreateInstance(ctx, instance))

	ts := time.Now().UTC().Truncate(time.Millisecond)
	types := []models.EventType{
		models.EventTypeStarted,
		models.EventTypeStepExecuted,
		models.EventTypeApproved,
		models.EventTypeCompleted,
	}

	for _, eventType := range types {
		require.NoError(t, repo.AppendEvent(ctx, &models.WorkflowEvent{
			ID:          uuid.NewString(),
			InstanceID:  instance.ID,
			EventType:   eventType,
			Description: string(eventType),
			TenantID:    "tenant-a",
			Timestamp:   ts,
		}))
	}

	events, err := repo.EventsByInstance(ctx, "tenant-a", instance.ID)
	require.NoError(t, err)
	require.Len(t, events, len(types))

	for i, eventType := range types {
		assert.Equal(t, eventType, events[i].EventType)
	}

	other, err := repo.EventsByInstance(ctx, "tenant-b", instance.ID)
	require.NoError(t, err)
	assert.Empty(t, other)
}

// RunTimeouts exercises a timeout repository on its own so that stand-alone
// timeout stores share the same contract.
func RunTimeouts(t *testing.T, repo persistence.TimeoutRepository) {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	early := &models.StepTimeout{TenantID: "tenant-a", InstanceID: "i1", StepID: "review", DueAt: now.Add(-2 * time.Minute), CreatedAt: now}
	late := &models.StepTimeout{TenantID: "tenant-a", InstanceID: "i2", StepID: "review", DueAt: now.Add(-time.Minute), CreatedAt: now}
	future := &models.StepTimeout{TenantID: "tenant-b", InstanceID: "i3", StepID: "review", DueAt: now.Add(time.Hour), CreatedAt: now}

	for _, timeout := range []*models.StepTimeout{late, future, early} {
		require.NoError(t, repo.ScheduleTimeout(ctx, timeout))
	}

	due, err := repo.DueTimeouts(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "i1", due[0].InstanceID)
	assert.Equal(t, "i2", due[1].InstanceID)
	assert.WithinDuration(t, early.DueAt, due[0].DueAt, time.Millisecond)

	limited, err := repo.DueTimeouts(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "i1", limited[0].InstanceID)

	rescheduled := *early
	rescheduled.DueAt = now.Add(30 * time.Minute)
	require.NoError(t, repo.ScheduleTimeout(ctx, &rescheduled))

	due, err = repo.DueTimeouts(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "i2", due[0].InstanceID)

	require.NoError(t, repo.CancelTimeout(ctx, "tenant-a", "i2", "review"))
	require.NoError(t, repo.CancelTimeout(ctx, "tenant-a", "i2", "review"))

	due, err = repo.DueTimeouts(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "i1", due[0].InstanceID)
	assert.Equal(t, "i3", due[1].InstanceID)
}
