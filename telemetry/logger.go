package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nexusmind/orchestrator/core"
)

// LogLevel orders the severities a StructuredLogger will emit.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func parseLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

// StructuredLogger is the production core.ComponentAwareLogger implementation.
// It writes JSON when running inside Kubernetes (detected via
// KUBERNETES_SERVICE_HOST) and human-readable text otherwise, matching the
// dual-format convention the rest of this stack uses for local development versus
// cluster deployment. Error-level logs are rate limited per message key so a hot
// failure loop cannot flood stdout.
type StructuredLogger struct {
	mu        sync.Mutex
	level     LogLevel
	json      bool
	component string
	out       *os.File

	errorLimiter map[string]time.Time
}

var (
	defaultLoggerOnce sync.Once
	defaultLogger     *StructuredLogger
)

// GetLogger returns the process-wide default logger, created on first use from
// environment variables (ORCH_LOG_LEVEL, ORCH_LOG_FORMAT).
func GetLogger() *StructuredLogger {
	defaultLoggerOnce.Do(func() {
		defaultLogger = newStructuredLoggerFromEnv()
	})
	return defaultLogger
}

func newStructuredLoggerFromEnv() *StructuredLogger {
	level := LevelInfo
	if v := os.Getenv("ORCH_LOG_LEVEL"); v != "" {
		if parsed, ok := parseLevel(v); ok {
			level = parsed
		}
	}

	useJSON := core.IsKubernetes()
	if v := os.Getenv("ORCH_LOG_FORMAT"); v != "" {
		useJSON = strings.EqualFold(v, "json")
	}

	return &StructuredLogger{
		level:        level,
		json:         useJSON,
		out:          os.Stdout,
		errorLimiter: make(map[string]time.Time),
	}
}

// NewStructuredLogger builds a logger with an explicit level and format,
// bypassing environment detection. Used by tests and by callers that want
// deterministic behavior regardless of the host environment.
func NewStructuredLogger(level LogLevel, json bool) *StructuredLogger {
	return &StructuredLogger{
		level:        level,
		json:         json,
		out:          os.Stdout,
		errorLimiter: make(map[string]time.Time),
	}
}

func (l *StructuredLogger) WithComponent(component string) core.Logger {
	return &StructuredLogger{
		level:        l.level,
		json:         l.json,
		component:    component,
		out:          l.out,
		errorLimiter: l.errorLimiter,
	}
}

func (l *StructuredLogger) Info(msg string, fields map[string]interface{}) {
	l.log(LevelInfo, msg, fields)
}

func (l *StructuredLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(LevelWarn, msg, fields)
}

func (l *StructuredLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(LevelDebug, msg, fields)
}

// Error is rate limited: the same (component, msg) pair logs at most once per
// 5 seconds so a failing loop does not drown the rest of the output.
func (l *StructuredLogger) Error(msg string, fields map[string]interface{}) {
	key := l.component + "|" + msg
	l.mu.Lock()
	last, seen := l.errorLimiter[key]
	if seen && time.Since(last) < 5*time.Second {
		l.mu.Unlock()
		return
	}
	l.errorLimiter[key] = time.Now()
	l.mu.Unlock()
	l.log(LevelError, msg, fields)
}

func (l *StructuredLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(LevelInfo, msg, withTraceFields(ctx, fields))
}

func (l *StructuredLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(LevelWarn, msg, withTraceFields(ctx, fields))
}

func (l *StructuredLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(LevelDebug, msg, withTraceFields(ctx, fields))
}

func (l *StructuredLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Error(msg, withTraceFields(ctx, fields))
}

func (l *StructuredLogger) shouldLog(level LogLevel) bool {
	return level >= l.level
}

func (l *StructuredLogger) log(level LogLevel, msg string, fields map[string]interface{}) {
	if !l.shouldLog(level) {
		return
	}
	if l.json {
		l.logJSON(level, msg, fields)
		return
	}
	l.logText(level, msg, fields)
}

func levelName(level LogLevel) string {
	switch level {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

func (l *StructuredLogger) logJSON(level LogLevel, msg string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     levelName(level),
		"message":   msg,
	}
	if l.component != "" {
		entry["component"] = l.component
	}
	for k, v := range fields {
		entry[k] = v
	}
	b, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.out, "{\"level\":\"error\",\"message\":\"log marshal failed: %v\"}\n", err)
		return
	}
	fmt.Fprintln(l.out, string(b))
}

func (l *StructuredLogger) logText(level LogLevel, msg string, fields map[string]interface{}) {
	ts := time.Now().Format("15:04:05.000")
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]", ts, strings.ToUpper(levelName(level)))
	if l.component != "" {
		fmt.Fprintf(&b, " (%s)", l.component)
	}
	fmt.Fprintf(&b, " %s", msg)
	for k, v := range fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	fmt.Fprintln(l.out, b.String())
}

func withTraceFields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	traceID, spanID, ok := TraceIDs(ctx)
	if !ok {
		return fields
	}
	out := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	out["trace_id"] = traceID
	out["span_id"] = spanID
	return out
}
