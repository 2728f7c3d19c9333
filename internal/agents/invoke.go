package agents

import (
	"context"
	"errors"
	"fmt"

	"datalens/internal/logging"
	"datalens/internal/metrics"
	"datalens/internal/sandbox"
	"datalens/internal/types"
)

// Caller routes every LLM call through the LLM breaker, audit-logs the
// interaction, and accounts tokens. One Caller is shared per process.
type Caller struct {
	Client  LLMClient
	Breaker *sandbox.Breaker
	Audit   *logging.AuditLogger
	Metrics *metrics.Metrics
}

// NewCaller wires a caller; breaker, audit and metrics may be nil in tests.
func NewCaller(client LLMClient, breaker *sandbox.Breaker, audit *logging.AuditLogger, m *metrics.Metrics) *Caller {
	return &Caller{Client: client, Breaker: breaker, Audit: audit, Metrics: m}
}

// ErrNoClient is returned when no LLM is configured for a node.
var ErrNoClient = errors.New("no LLM client configured")

// complete runs one completion through the breaker with soft-error
// classification.
func (c *Caller) complete(ctx context.Context, system, user string) (string, error) {
	if c.Client == nil {
		return "", ErrNoClient
	}
	// Honor cancellation before the network suspension point.
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	call := func() (any, error) {
		text, err := c.Client.CompleteWithSystem(ctx, system, user)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.IsSoftStatus() {
				return "", sandbox.Soft(err)
			}
			return "", err
		}
		return text, nil
	}

	var result any
	var err error
	if c.Breaker != nil {
		result, err = c.Breaker.Do(call)
	} else {
		result, err = call()
	}
	if err != nil {
		return "", err
	}
	text, _ := result.(string)
	return text, nil
}

// Invoke performs one structured-output agent call: completion, JSON
// extraction, decode into T. It never passes raw text downstream; any decode
// failure surfaces as an error.
func Invoke[T any](ctx context.Context, c *Caller, agent, system, user string) (T, error) {
	var zero T
	log := logging.For(ctx, logging.CategoryAgents)

	text, err := c.complete(ctx, system, user)

	model := ""
	if mn, ok := c.Client.(ModelNamer); ok {
		model = mn.ModelName()
	}
	usage := Usage{}
	if ur, ok := c.Client.(UsageReporter); ok {
		usage = ur.LastUsage()
	}
	c.Metrics.CountTokens(agent, model, "", usage.PromptTokens, usage.CompletionTokens)
	c.Audit.LogEvent(logging.AuditLLMInteraction, map[string]any{
		"agent":             agent,
		"model":             model,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"success":           err == nil,
	}, logging.TraceID(ctx), logging.TenantID(ctx))

	if err != nil {
		return zero, err
	}

	out, err := Decode[T](text)
	if err != nil {
		log.Warnw("structured output parse failure", "agent", agent, "error", err.Error())
		return zero, fmt.Errorf("agent %s: %w", agent, err)
	}
	return out, nil
}

// ErrorRecord maps an agent failure to a pipeline error with the right code:
// missing client, breaker short-circuit, cancellation or deadline (both
// critical), or a generic planning failure.
func ErrorRecord(node string, err error) types.PipelineError {
	switch {
	case errors.Is(err, ErrNoClient):
		return types.NewError(node, types.ErrMissingLLM, "LLM not configured for node")
	case errors.Is(err, sandbox.ErrUnavailable):
		return types.NewError(node, types.ErrServiceUnavailable, "LLM temporarily unavailable")
	case errors.Is(err, context.Canceled):
		return types.NewCritical(node, types.ErrCancelled, "cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewCritical(node, types.ErrPipelineTimeout, "deadline exceeded")
	default:
		return types.NewError(node, types.ErrPlanningFailure, sanitizeMessage(err))
	}
}

// sanitizeMessage trims provider detail out of user-visible messages.
func sanitizeMessage(err error) string {
	msg := err.Error()
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}
