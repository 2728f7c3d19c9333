package agents_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens/internal/agents"
	"datalens/internal/agents/agentstest"
	"datalens/internal/sandbox"
	"datalens/internal/types"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose around", `Here is the plan: {"a": {"b": [1, 2]}} hope it helps`, `{"a": {"b": [1, 2]}}`},
		{"braces in strings", `{"msg": "use } carefully"}`, `{"msg": "use } carefully"}`},
		{"array", `[1, 2, 3]`, `[1, 2, 3]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := agents.ExtractJSON(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := agents.ExtractJSON("no json here at all")
	assert.Error(t, err)
	_, err = agents.ExtractJSON(`{"unbalanced": true`)
	assert.Error(t, err)
}

func TestInvokeDecodesTypedContract(t *testing.T) {
	client := &agentstest.Scripted{Responses: []string{
		`{"is_safe": false, "violation_category": "jailbreak", "reasoning": "prompt injection"}`,
	}}
	caller := agents.NewCaller(client, nil, nil, nil)

	result, err := agents.Invoke[agents.IntentValidationResult](t.Context(), caller, "intent_validator", "sys", "user query")
	require.NoError(t, err)
	assert.False(t, result.IsSafe)
	assert.Equal(t, "jailbreak", result.ViolationCategory)
}

func TestInvokeRejectsUnparsedContent(t *testing.T) {
	client := &agentstest.Scripted{Responses: []string{"I refuse to answer in JSON."}}
	caller := agents.NewCaller(client, nil, nil, nil)

	_, err := agents.Invoke[agents.IntentValidationResult](t.Context(), caller, "intent_validator", "", "q")
	require.Error(t, err)
	rec := agents.ErrorRecord("intent_validator", err)
	assert.Equal(t, types.ErrPlanningFailure, rec.Code)
}

func TestInvokeThroughBreaker(t *testing.T) {
	boom := errors.New("connection reset")
	client := &agentstest.Scripted{Handler: func(system, user string) (string, error) { return "", boom }}
	breaker := sandbox.NewBreaker("LLM_TEST", 2, time.Minute, nil)
	caller := agents.NewCaller(client, breaker, nil, nil)

	for i := 0; i < 2; i++ {
		_, err := agents.Invoke[agents.IntentValidationResult](t.Context(), caller, "n", "", "q")
		require.ErrorIs(t, err, boom)
	}
	// Open: short-circuits without touching the client.
	before := client.Calls()
	_, err := agents.Invoke[agents.IntentValidationResult](t.Context(), caller, "n", "", "q")
	require.ErrorIs(t, err, sandbox.ErrUnavailable)
	assert.Equal(t, before, client.Calls())

	rec := agents.ErrorRecord("n", err)
	assert.Equal(t, types.ErrServiceUnavailable, rec.Code)
	assert.False(t, rec.Retryable)
}

func TestSoftAPIErrorsBypassBreaker(t *testing.T) {
	rateLimit := &agents.APIError{Status: 429, Code: "RESOURCE_EXHAUSTED", Message: "quota"}
	client := &agentstest.Scripted{Handler: func(system, user string) (string, error) { return "", rateLimit }}
	breaker := sandbox.NewBreaker("LLM_SOFT", 2, time.Minute, nil)
	caller := agents.NewCaller(client, breaker, nil, nil)

	for i := 0; i < 5; i++ {
		_, err := agents.Invoke[agents.IntentValidationResult](t.Context(), caller, "n", "", "q")
		require.Error(t, err)
		assert.NotErrorIs(t, err, sandbox.ErrUnavailable)
	}
	assert.Equal(t, 5, client.Calls())
}

func TestErrorRecordMissingLLM(t *testing.T) {
	caller := agents.NewCaller(nil, nil, nil, nil)
	_, err := agents.Invoke[agents.AggregatedResponse](t.Context(), caller, "synth", "", "q")
	require.ErrorIs(t, err, agents.ErrNoClient)
	rec := agents.ErrorRecord("synth", err)
	assert.Equal(t, types.ErrMissingLLM, rec.Code)
}
