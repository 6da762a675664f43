package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/stepflow/pkg/channels/gochannel"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_DeliversAuditEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)
	received := make(chan *events.WorkflowAudit, 1)

	require.NoError(t, bus.Handle(events.WorkflowCompletedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.WorkflowAudit)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	audit := events.NewWorkflowAudit(&models.WorkflowEvent{
		ID:          "evt-1",
		InstanceID:  "inst-1",
		EventType:   models.EventTypeCompleted,
		Description: "Workflow completed successfully",
		TenantID:    "t1",
		Timestamp:   time.Now().UTC(),
	})
	require.NoError(t, bus.Publish(ctx, "inst-1", audit))

	select {
	case got := <-received:
		assert.Equal(t, "inst-1", got.InstanceID)
		assert.Equal(t, "t1", got.TenantID)
		assert.Equal(t, events.WorkflowCompletedEvent, got.Type)
		assert.Equal(t, "Workflow completed successfully", got.Description)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillEventBus_IgnoresUnhandledTypes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newBus(t)
	received := make(chan *events.EmailRequested, 2)

	require.NoError(t, bus.Handle(events.EmailRequestedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.EmailRequested)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "inst-1", events.NewWorkflowAudit(&models.WorkflowEvent{
		ID: "evt-1", InstanceID: "inst-1", EventType: models.EventTypeStarted, TenantID: "t1",
	})))
	require.NoError(t, bus.Publish(ctx, "inst-1", events.EmailRequested{
		BaseEvent: events.BaseEvent{ID: "e1", Type: events.EmailRequestedEvent, TenantID: "t1"},
		To:        "pm@example.com",
		Subject:   "s",
		Body:      "b",
	}))

	select {
	case got := <-received:
		assert.Equal(t, &models.Email{To: "pm@example.com", Subject: "s", Body: "b", TenantID: "t1"}, got.Email())
	case <-time.After(5 * time.Second):
		t.Fatal("email not delivered")
	}

	assert.Empty(t, received)
}

func TestNewWorkflowAudit_MapsEveryType(t *testing.T) {
	for _, eventType := range []models.EventType{
		models.EventTypeStarted,
		models.EventTypeStepExecuted,
		models.EventTypeStepFailed,
		models.EventTypeApproved,
		models.EventTypeRejected,
		models.EventTypeCompleted,
		models.EventTypeFailed,
	} {
		audit := events.NewWorkflowAudit(&models.WorkflowEvent{EventType: eventType})
		assert.True(t, events.IsAudit(audit.GetType()), eventType)
	}

	assert.False(t, events.IsAudit(events.EmailRequestedEvent))
}
