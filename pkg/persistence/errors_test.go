package persistence_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("instance error unwraps", func(t *testing.T) {
		err := persistence.NewInstanceError("Transition", "t1", "inst-1", persistence.ErrInstanceConflict)

		assert.True(t, persistence.IsInstanceConflict(err))
		assert.True(t, errors.Is(err, persistence.ErrInstanceConflict))
		assert.False(t, persistence.IsInstanceNotFound(err))
		assert.Contains(t, err.Error(), "Transition")
		assert.Contains(t, err.Error(), "inst-1")
	})

	t.Run("step error contains step", func(t *testing.T) {
		err := persistence.NewStepError("Decide", "t1", "inst-1", "approve", persistence.ErrApprovalNotPending)

		assert.True(t, persistence.IsApprovalNotPending(err))
		assert.Contains(t, err.Error(), "step approve")
	})

	t.Run("predicates see through fmt wrapping", func(t *testing.T) {
		assert.True(t, persistence.IsTemplateNotFound(fmt.Errorf("load: %w", persistence.ErrTemplateNotFound)))
		assert.True(t, persistence.IsApprovalNotFound(fmt.Errorf("decide: %w", persistence.ErrApprovalNotFound)))
	})
}

func TestInstanceGuardAndChange(t *testing.T) {
	t.Parallel()

	instance := &models.WorkflowInstance{Status: models.InstanceStatusActive, CurrentStep: "a"}

	assert.True(t, persistence.InstanceGuard{CurrentStep: "a"}.Matches(instance))
	assert.False(t, persistence.InstanceGuard{CurrentStep: "b"}.Matches(instance))

	now := time.Now()
	persistence.InstanceChange{Status: models.InstanceStatusCompleted, CompletedAt: &now}.Apply(instance)

	assert.Equal(t, "a", instance.CurrentStep)
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Equal(t, now, *instance.CompletedAt)
	assert.False(t, persistence.InstanceGuard{CurrentStep: "a"}.Matches(instance))

	persistence.InstanceChange{CurrentStep: "b"}.Apply(instance)
	assert.Equal(t, "b", instance.CurrentStep)
}
