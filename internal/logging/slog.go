package logging

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	opLogger       atomic.Pointer[slog.Logger]
	logLevel       = new(slog.LevelVar)
	includeTraceID atomic.Bool
)

func init() {
	logLevel.Set(slog.LevelInfo)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	opLogger.Store(logger)
	includeTraceID.Store(true)
}

// Op returns the operational logger for bridge/infrastructure logs (child
// spawns, exits, registry churn). This is separate from the call Logger,
// which logs individual JSON-RPC calls.
func Op() *slog.Logger {
	return opLogger.Load()
}

// SetLevel changes the log level for the operational logger.
// Valid levels: slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLevelFromString sets the log level from a string.
// Valid values: "debug", "info", "warn", "error"
func SetLevelFromString(level string) {
	switch level {
	case "debug", "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "info", "INFO":
		logLevel.Set(slog.LevelInfo)
	case "warn", "WARN", "warning", "WARNING":
		logLevel.Set(slog.LevelWarn)
	case "error", "ERROR":
		logLevel.Set(slog.LevelError)
	}
}

// InitStructured reconfigures the operational logger per the
// observability.logging config block: format is "text" (default) or "json"
// (Loki/ELK compatible), level is one of SetLevelFromString's values, and
// includeTraceID gates whether OpWithTrace actually attaches trace/span IDs
// — set it false to keep operational logs free of tracing-internal fields
// when tracing is disabled or the operator doesn't want the correlation.
func InitStructured(format, level string, includeTrace bool) {
	SetLevelFromString(level)
	includeTraceID.Store(includeTrace)

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	opLogger.Store(logger)
}

// OpWithTrace returns the operational logger with trace context fields
// attached, when includeTraceID is enabled and traceID is non-empty. This
// is how a child's operational log lines (spawn failures, call errors) get
// tagged with the same trace/span IDs already recorded on the matching
// CallLog entry, so the two logs can be correlated in a log viewer without
// going through the tracing backend.
func OpWithTrace(traceID, spanID string) *slog.Logger {
	l := opLogger.Load()
	if traceID == "" || !includeTraceID.Load() {
		return l
	}
	args := []any{"trace_id", traceID}
	if spanID != "" {
		args = append(args, "span_id", spanID)
	}
	return l.With(args...)
}
