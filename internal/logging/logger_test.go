package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New("INFO", "json", &buf)

	logger.Debug("hidden")
	logger.Info("indexed workspace", "files", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "indexed workspace", record["msg"])
	assert.Equal(t, float64(3), record["files"])
}

func TestNew_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New("DEBUG", "text", &buf)

	logger.Debug("planner fallback", "reason", "empty")

	assert.Contains(t, buf.String(), "msg=\"planner fallback\"")
	assert.Contains(t, buf.String(), "reason=empty")
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, slog.Default(), OrDefault(nil))

	custom := New("INFO", "json", &bytes.Buffer{})
	assert.Equal(t, custom, OrDefault(custom))
}
