package registry

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAction struct {
	config map[string]any
}

func (m *mockAction) Execute(context.Context, *models.WorkflowInstance, *slog.Logger) error {
	return nil
}

type mockFactory struct {
	id     string
	schema map[string]any
}

func (f *mockFactory) ID() string             { return f.id }
func (f *mockFactory) Name() string           { return "Mock" }
func (f *mockFactory) Description() string    { return "mock action" }
func (f *mockFactory) Schema() map[string]any { return f.schema }

func (f *mockFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return &mockAction{config: config}, nil
}

func newTestRegistry() *Registry {
	return New(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestRegistry_CreateAction(t *testing.T) {
	r := newTestRegistry()
	r.RegisterAction(&mockFactory{
		id: "mock",
		schema: map[string]any{
			"type":     "object",
			"required": []string{"newStatus"},
			"properties": map[string]any{
				"newStatus": map[string]any{"type": "string"},
			},
		},
	})

	tests := []struct {
		name    string
		id      string
		config  map[string]any
		wantErr error
	}{
		{
			name:   "valid config",
			id:     "mock",
			config: map[string]any{"newStatus": "approved"},
		},
		{
			name:   "extra properties are allowed",
			id:     "mock",
			config: map[string]any{"newStatus": "approved", "action": "mock"},
		},
		{
			name:    "missing required property",
			id:      "mock",
			config:  map[string]any{},
			wantErr: ErrInvalidActionConfig,
		},
		{
			name:    "nil config fails required",
			id:      "mock",
			config:  nil,
			wantErr: ErrInvalidActionConfig,
		},
		{
			name:    "wrong type",
			id:      "mock",
			config:  map[string]any{"newStatus": 3},
			wantErr: ErrInvalidActionConfig,
		},
		{
			name:    "unknown action",
			id:      "nope",
			config:  map[string]any{},
			wantErr: ErrActionNotRegistered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := r.CreateAction(context.Background(), tt.id, tt.config)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, action)

				return
			}

			require.NoError(t, err)
			assert.IsType(t, &mockAction{}, action)
		})
	}
}

func TestRegistry_NilSchemaSkipsValidation(t *testing.T) {
	r := newTestRegistry()
	r.RegisterAction(&mockFactory{id: "free"})

	action, err := r.CreateAction(context.Background(), "free", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, action.(*mockAction).config)
}

func TestRegistry_ActionsSortedAndHealth(t *testing.T) {
	r := newTestRegistry()

	msg, ok := r.HealthCheck()
	assert.False(t, ok)
	assert.Equal(t, "no actions registered", msg)

	r.RegisterAction(&mockFactory{id: "b"})
	r.RegisterAction(&mockFactory{id: "a"})

	actions := r.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, "a", actions[0].ID())
	assert.Equal(t, "b", actions[1].ID())

	msg, ok = r.HealthCheck()
	assert.True(t, ok)
	assert.Equal(t, "2 actions registered", msg)

	_, found := r.Action("a")
	assert.True(t, found)
}

func TestRegistry_LoadActionPluginsEmptyDir(t *testing.T) {
	r := newTestRegistry()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir+"/actions", 0o755))

	factories, err := r.LoadActionPlugins(dir)
	require.NoError(t, err)
	assert.Empty(t, factories)
}
