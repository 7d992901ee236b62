package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T, l *StructuredLogger, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	old := l.out
	l.out = w
	defer func() { l.out = old }()

	fn()
	require.NoError(t, w.Close())

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	return buf.String()
}

func TestStructuredLoggerTextFormat(t *testing.T) {
	l := NewStructuredLogger(LevelInfo, false)
	out := captureOutput(t, l, func() {
		l.Info("tool registered", map[string]interface{}{"tool": "weather.lookup"})
	})
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "tool registered")
	assert.Contains(t, out, "tool=weather.lookup")
}

func TestStructuredLoggerJSONFormat(t *testing.T) {
	l := NewStructuredLogger(LevelInfo, true)
	out := captureOutput(t, l, func() {
		l.Info("plan built", map[string]interface{}{"steps": 3})
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace([]byte(out)), &entry))
	assert.Equal(t, "plan built", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.EqualValues(t, 3, entry["steps"])
}

func TestStructuredLoggerLevelFiltering(t *testing.T) {
	l := NewStructuredLogger(LevelWarn, false)
	out := captureOutput(t, l, func() {
		l.Debug("should not appear", nil)
		l.Info("should not appear either", nil)
		l.Warn("should appear", nil)
	})
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestStructuredLoggerWithComponent(t *testing.T) {
	l := NewStructuredLogger(LevelInfo, false)
	out := captureOutput(t, l, func() {
		scoped := l.WithComponent("orchestrator/registry")
		scoped.Info("registered", nil)
	})
	assert.Contains(t, out, "(orchestrator/registry)")
}

func TestStructuredLoggerErrorRateLimiting(t *testing.T) {
	l := NewStructuredLogger(LevelInfo, false)
	out := captureOutput(t, l, func() {
		l.Error("downstream failed", nil)
		l.Error("downstream failed", nil)
	})
	count := bytes.Count([]byte(out), []byte("downstream failed"))
	assert.Equal(t, 1, count, "second call within the rate-limit window should be suppressed")
}

func TestStructuredLoggerWithContextOmitsTraceFieldsWithoutSpan(t *testing.T) {
	l := NewStructuredLogger(LevelInfo, false)
	out := captureOutput(t, l, func() {
		l.InfoWithContext(context.Background(), "no active span", nil)
	})
	assert.Contains(t, out, "no active span")
	assert.NotContains(t, out, "trace_id")
}
