package infrastructure

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.input), tt.input)
	}
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	ctx = WithTraceID(ctx, "trace-123")
	assert.Equal(t, "trace-123", GetTraceID(ctx))
}

func TestEnsureTraceID(t *testing.T) {
	ctx := EnsureTraceID(context.Background())
	first := GetTraceID(ctx)
	assert.NotEmpty(t, first)

	// A context that already carries a trace ID is returned unchanged.
	ctx2 := EnsureTraceID(ctx)
	assert.Equal(t, first, GetTraceID(ctx2))
}

func TestGenerateTraceID_Unique(t *testing.T) {
	assert.NotEqual(t, GenerateTraceID(), GenerateTraceID())
}

func TestLoggerWithContext(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-ctx")
	assert.NotNil(t, LoggerWithContext(ctx))
	assert.NotNil(t, LoggerWithContext(context.Background()))
}
