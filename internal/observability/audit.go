package observability

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent is one structured audit record.
type AuditEvent struct {
	Type      string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Action    string          `json:"action"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	TraceID   string          `json:"trace_id,omitempty"`
}

// AuditLogger writes audit events as JSON lines and mirrors them onto the
// active span.
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

var (
	auditMu   sync.Mutex
	auditInst *AuditLogger
)

// NewAuditLogger writes to w.
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{logger: zerolog.New(w).With().Timestamp().Str("log", "audit").Logger()}
}

// GetAuditLogger returns the process audit logger, stderr by default.
func GetAuditLogger() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditInst == nil {
		auditInst = NewAuditLogger(os.Stderr)
	}
	return auditInst
}

// SetAuditLogger replaces the process audit logger.
func SetAuditLogger(a *AuditLogger) {
	auditMu.Lock()
	defer auditMu.Unlock()
	auditInst = a
}

// InitAuditLogger points the process audit logger at an append-only file.
func InitAuditLogger(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	a := NewAuditLogger(file)
	a.closer = file
	SetAuditLogger(a)
	return nil
}

// Record emits event.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	span := trace.SpanFromContext(ctx)
	if sc := span.SpanContext(); sc.IsValid() {
		event.TraceID = sc.TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("event_type", event.Type).
		Time("at", event.Timestamp).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.SessionID != "" {
		entry = entry.Str("session_id", event.SessionID)
	}
	if event.TraceID != "" {
		entry = entry.Str("trace_id", event.TraceID)
	}
	if len(event.Payload) > 0 {
		entry = entry.RawJSON("payload", event.Payload)
	}
	entry.Msg("")
}

// Close closes the underlying file, if any.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// RecordToolAudit records one dispatched tool call. payload must already be
// redacted.
func RecordToolAudit(ctx context.Context, sessionID, tool string, isError bool, payload json.RawMessage) {
	st := "success"
	if isError {
		st = "failure"
	}
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:      "tool",
		SessionID: sessionID,
		Action:    "execute:" + tool,
		Status:    st,
		Payload:   payload,
	})
}

// RecordConfigAudit records a configuration mutation.
func RecordConfigAudit(ctx context.Context, action string, version uint64) {
	payload, _ := json.Marshal(map[string]uint64{"version": version})
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:    "config",
		Action:  action,
		Status:  "success",
		Payload: payload,
	})
}
