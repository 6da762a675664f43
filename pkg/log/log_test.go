package log

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetup(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	tests := []struct {
		level   string
		enabled slog.Level
		hidden  slog.Level
	}{
		{level: "debug", enabled: slog.LevelDebug, hidden: slog.LevelDebug - 1},
		{level: "warn", enabled: slog.LevelWarn, hidden: slog.LevelInfo},
		{level: "error", enabled: slog.LevelError, hidden: slog.LevelWarn},
		{level: "bogus", enabled: slog.LevelInfo, hidden: slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Setup(tt.level)

			handler := slog.Default().Handler()
			assert.True(t, handler.Enabled(context.Background(), tt.enabled))
			assert.False(t, handler.Enabled(context.Background(), tt.hidden))
		})
	}
}

func TestFromContext(t *testing.T) {
	fallback := slog.Default()
	scoped := fallback.With("tenant_id", "t1")

	assert.Same(t, fallback, FromContext(context.Background(), fallback))
	assert.Same(t, scoped, FromContext(WithLogger(context.Background(), scoped), fallback))
}
