package log

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestSetLevel(t *testing.T) {
	Init("info")
	defer SetLevel("info")

	SetLevel("debug")
	assert.Equal(t, slog.LevelDebug, Level())
	assert.True(t, L().Enabled(context.Background(), slog.LevelDebug))

	SetLevel("error")
	assert.False(t, L().Enabled(context.Background(), slog.LevelWarn))
}
