package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	traceIDKey   contextKey = "trace_id"
	runIDKey     contextKey = "run_id"
	sessionIDKey contextKey = "session_id"
)

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, traceIDKey)
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	return stringValue(ctx, runIDKey)
}

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string {
	return stringValue(ctx, sessionIDKey)
}

// NewRequestContext returns ctx with a fresh trace ID unless one is already set.
func NewRequestContext(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, NewTraceID())
}

// LoggerFromContext adds the ids carried by ctx to base.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	fields := base.With()
	if id := GetTraceID(ctx); id != "" {
		fields = fields.Str("trace_id", id)
	}
	if id := GetRunID(ctx); id != "" {
		fields = fields.Str("run_id", id)
	}
	if id := GetSessionID(ctx); id != "" {
		fields = fields.Str("session_id", id)
	}
	return fields.Logger()
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
