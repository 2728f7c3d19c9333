package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactNestedKeys(t *testing.T) {
	payload := map[string]any{
		"model":   "gemini",
		"api_key": "sk-live-123",
		"nested": map[string]any{
			"Password": "hunter2",
			"rows":     []any{map[string]any{"authorization": "Bearer x"}},
		},
	}
	cleaned := Redact(payload).(map[string]any)

	assert.Equal(t, "***REDACTED***", cleaned["api_key"])
	nested := cleaned["nested"].(map[string]any)
	assert.Equal(t, "***REDACTED***", nested["Password"])
	row := nested["rows"].([]any)[0].(map[string]any)
	assert.Equal(t, "***REDACTED***", row["authorization"])
	assert.Equal(t, "gemini", cleaned["model"])

	// Input untouched.
	assert.Equal(t, "sk-live-123", payload["api_key"])
}

func TestAuditLoggerEmitsRedactedRecords(t *testing.T) {
	var buf bytes.Buffer
	audit := NewAuditLoggerWithWriter(&buf)

	audit.LogEvent(AuditLLMInteraction, map[string]any{
		"agent":  "decomposer",
		"secret": "topsecret",
	}, "trace-1", "tenant-9")

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)
	assert.NotContains(t, line, "topsecret")

	var event AuditEvent
	require.NoError(t, json.Unmarshal([]byte(line), &event))
	assert.Equal(t, AuditLLMInteraction, event.EventType)
	assert.Equal(t, "trace-1", event.TraceID)
	assert.Equal(t, "tenant-9", event.TenantID)
	assert.Equal(t, "decomposer", event.Data["agent"])
	assert.Equal(t, "***REDACTED***", event.Data["secret"])
}

func TestContextPropagation(t *testing.T) {
	ctx := WithTenant(WithTrace(t.Context(), "tr"), "tn")
	assert.Equal(t, "tr", TraceID(ctx))
	assert.Equal(t, "tn", TenantID(ctx))
	assert.Empty(t, TraceID(t.Context()))

	// For must not panic on a bare context.
	For(t.Context(), CategoryRuntime).Debug("no fields")
}
