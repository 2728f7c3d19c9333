package agents

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServerClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := DefaultGeminiConfig("test-key")
	cfg.BaseURL = srv.URL
	return NewGeminiClientWithConfig(cfg)
}

func TestGeminiCompleteParsesResponse(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{"parts": []map[string]any{{"text": `{"ok": true}`}}},
			}},
			"usageMetadata": map[string]any{"promptTokenCount": 12, "candidatesTokenCount": 3},
		})
	})

	text, err := client.CompleteWithSystem(t.Context(), "system prompt", "user prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, text)
	assert.Contains(t, gotPath, "gemini-2.5-flash:generateContent")
	assert.NotNil(t, gotBody["systemInstruction"])

	usage := client.LastUsage()
	assert.Equal(t, 12, usage.PromptTokens)
	assert.Equal(t, 3, usage.CompletionTokens)
	assert.Equal(t, "gemini-2.5-flash", client.ModelName())
}

func TestGeminiAPIErrorClassification(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 429, "status": "RESOURCE_EXHAUSTED", "message": "quota exceeded"},
		})
	})

	_, err := client.Complete(t.Context(), "q")
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsSoftStatus())

	hard := &APIError{Status: 500, Message: "internal"}
	assert.False(t, hard.IsSoftStatus())
}

func TestGeminiNoAPIKey(t *testing.T) {
	client := NewGeminiClient("")
	_, err := client.Complete(t.Context(), "q")
	assert.Error(t, err)
}
