package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/stepflow/pkg/channels/kafka"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/sinks/bus"
	"github.com/dukex/stepflow/pkg/sinks/logsink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestParsePersistenceProvider(t *testing.T) {
	tests := []struct {
		url      string
		provider string
		rest     string
	}{
		{url: "file:///var/lib/stepflow", provider: "file", rest: "/var/lib/stepflow"},
		{url: "./data", provider: "file", rest: "./data"},
		{url: "postgres://u:p@db:5432/stepflow", provider: "postgres", rest: "u:p@db:5432/stepflow"},
		{url: "postgresql://db/stepflow", provider: "postgresql", rest: "db/stepflow"},
		{url: "mongodb://db/stepflow", provider: "file", rest: "mongodb://db/stepflow"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			provider, rest := parsePersistenceProvider(tt.url)
			assert.Equal(t, tt.provider, provider)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestNewPersistence_File(t *testing.T) {
	dir := t.TempDir()

	p, err := NewPersistence(context.Background(), testLogger(), "file://"+dir)
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, p)
	require.NoError(t, p.HealthCheck(context.Background()))

	missing, err := NewPersistence(context.Background(), testLogger(), filepath.Join(dir, "missing"))
	require.NoError(t, err)
	require.Error(t, missing.HealthCheck(context.Background()))
}

func TestNewTimeoutStore(t *testing.T) {
	store, err := NewTimeoutStore(context.Background(), testLogger(), "")
	require.NoError(t, err)
	assert.Nil(t, store)

	_, err = NewTimeoutStore(context.Background(), testLogger(), "memcached://localhost")
	require.Error(t, err)
}

func TestNewEventBus(t *testing.T) {
	eventBus, err := NewEventBus("gochannel", "", "stepflow-api", testLogger())
	require.NoError(t, err)
	require.NoError(t, eventBus.Close())

	_, err = NewEventBus("kafka", " , ", "stepflow-api", testLogger())
	require.ErrorIs(t, err, kafka.ErrNoBrokers)

	_, err = NewEventBus("nats", "", "stepflow-api", testLogger())
	require.Error(t, err)
}

func TestNewSinks_WithoutDatabase(t *testing.T) {
	sinks, err := NewSinks(context.Background(), testLogger(), "", nil)
	require.NoError(t, err)

	assert.IsType(t, &logsink.Sink{}, sinks.Status)
	assert.IsType(t, &logsink.Sink{}, sinks.Email)
	require.NoError(t, sinks.HealthCheck(context.Background()))
	require.NoError(t, sinks.Close())

	eventBus, err := NewEventBus("gochannel", "", "stepflow-api", testLogger())
	require.NoError(t, err)

	defer func() { _ = eventBus.Close() }()

	sinks, err = NewSinks(context.Background(), testLogger(), "", eventBus)
	require.NoError(t, err)
	assert.IsType(t, &bus.EmailSender{}, sinks.Email)
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(testLogger(), logsink.New(testLogger()).Sinks(), t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"update_status", "create_task", "send_email"} {
		_, ok := reg.Action(id)
		assert.True(t, ok, id)
	}
}

func TestNewRuntime_FileBackend(t *testing.T) {
	ctx := context.Background()

	rt, err := NewRuntime(ctx, testLogger(), RuntimeOptions{
		ServiceName: "stepflow-test",
		DatabaseURL: "file://" + t.TempDir(),
		EventBus:    "gochannel",
	})
	require.NoError(t, err)

	defer rt.Close(ctx)

	require.NotNil(t, rt.Engine)
	assert.Same(t, rt.Persistence.TimeoutRepository(), rt.Timeouts)

	for name, check := range rt.HealthCheckers() {
		message, ok := check(ctx)
		assert.True(t, ok, "%s: %s", name, message)
	}
}

func TestNewRuntime_ClosesOnFailure(t *testing.T) {
	_, err := NewRuntime(context.Background(), testLogger(), RuntimeOptions{
		DatabaseURL: "file://" + t.TempDir(),
		EventBus:    "nats",
	})
	require.Error(t, err)
}

func TestRuntimeOptions_EmailRelayed(t *testing.T) {
	tests := []struct {
		name     string
		opts     RuntimeOptions
		expected bool
	}{
		{name: "in-process bus without relay", opts: RuntimeOptions{EventBus: "gochannel"}, expected: false},
		{name: "default bus without relay", opts: RuntimeOptions{}, expected: false},
		{name: "in-process bus with relay", opts: RuntimeOptions{EventBus: "gochannel", RelayEmail: true}, expected: true},
		{name: "kafka reaches the scheduler", opts: RuntimeOptions{EventBus: "kafka"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.opts.emailRelayed())
		})
	}
}

func TestNewRuntime_EmailSender(t *testing.T) {
	tests := []struct {
		name       string
		relayEmail bool
		expected   any
	}{
		{name: "logged when nothing relays", relayEmail: false, expected: &logsink.Sink{}},
		{name: "published when relayed in process", relayEmail: true, expected: &bus.EmailSender{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()

			rt, err := NewRuntime(ctx, testLogger(), RuntimeOptions{
				ServiceName: "stepflow-test",
				DatabaseURL: "file://" + t.TempDir(),
				EventBus:    "gochannel",
				RelayEmail:  tt.relayEmail,
			})
			require.NoError(t, err)

			defer rt.Close(ctx)

			assert.IsType(t, tt.expected, rt.Sinks.Email)
		})
	}
}
