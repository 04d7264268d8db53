package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"dev", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"prod", slog.LevelError},
		{"", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.name))
		})
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(buf, "warn")

	logger.Info("hidden message")
	logger.Warn("shown message")
	assert.NotContains(t, buf.String(), "hidden message")
	assert.Contains(t, buf.String(), "shown message")
}

func TestBrokerLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewBrokerLogger(buf, "")

	logger.Debug().Msg("debug message")
	logger.Info().Str("id", "standup").Msg("identity claimed")
	assert.NotContains(t, buf.String(), "debug message")
	assert.Contains(t, buf.String(), "identity claimed")
	assert.Contains(t, buf.String(), "standup")
}
