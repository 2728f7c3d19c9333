// Audit logging: a persistent JSON-lines stream of high-value events
// (LLM interactions, security violations, breaker transitions), separate from
// application debug logs. Sensitive keys are redacted before emission.
package logging

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	AuditLLMInteraction    AuditEventType = "llm_interaction"
	AuditSecurityViolation AuditEventType = "security_violation"
	AuditBreakerTransition AuditEventType = "breaker_transition"
	AuditPipelineStart     AuditEventType = "pipeline_start"
	AuditPipelineEnd       AuditEventType = "pipeline_end"
	AuditSandboxCrash      AuditEventType = "sandbox_crash"
	AuditSchemaRegistered  AuditEventType = "schema_registered"
	AuditArtifactWritten   AuditEventType = "artifact_written"
)

// AuditEvent is one record of the audit stream.
type AuditEvent struct {
	Timestamp string         `json:"timestamp"`
	EventType AuditEventType `json:"event_type"`
	TraceID   string         `json:"trace_id,omitempty"`
	TenantID  string         `json:"tenant_id,omitempty"`
	Data      map[string]any `json:"data"`
}

// redactedKeys are matched case-insensitively at every nesting depth.
var redactedKeys = map[string]struct{}{
	"api_key":       {},
	"password":      {},
	"secret":        {},
	"authorization": {},
}

const redactedValue = "***REDACTED***"

// Redact recursively replaces values of sensitive keys in maps and slices.
// The input is not mutated.
func Redact(data any) any {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if _, hit := redactedKeys[strings.ToLower(k)]; hit {
				out[k] = redactedValue
			} else {
				out[k] = Redact(val)
			}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Redact(item)
		}
		return out
	default:
		return data
	}
}

// AuditLogger writes audit events to a size-rotated JSON-lines file.
// One instance per process; construct with NewAuditLogger at wiring time.
type AuditLogger struct {
	mu     sync.Mutex
	closer io.Closer
	enc    *json.Encoder
	now    func() time.Time
}

// NewAuditLogger opens (creating if needed) the audit log at path.
// Rotation: 10 MiB per file, 5 backups.
func NewAuditLogger(path string) *AuditLogger {
	out := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MiB
		MaxBackups: 5,
	}
	return &AuditLogger{closer: out, enc: json.NewEncoder(out), now: time.Now}
}

// NewAuditLoggerWithWriter emits records to an arbitrary writer. Used by
// tests and by callers that own rotation themselves.
func NewAuditLoggerWithWriter(w io.Writer) *AuditLogger {
	return &AuditLogger{enc: json.NewEncoder(w), now: time.Now}
}

// LogEvent emits one structured record. The payload is redacted first.
func (a *AuditLogger) LogEvent(eventType AuditEventType, payload map[string]any, traceID, tenantID string) {
	if a == nil {
		return
	}
	cleaned, _ := Redact(payload).(map[string]any)
	event := AuditEvent{
		Timestamp: a.now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		TraceID:   traceID,
		TenantID:  tenantID,
		Data:      cleaned,
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.enc.Encode(event)
}

// Close flushes and closes the underlying file.
func (a *AuditLogger) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closer.Close()
}
