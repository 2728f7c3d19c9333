package orchestrator

import (
	"context"
	"fmt"

	"datalens/internal/agents"
	"datalens/internal/logging"
	"datalens/internal/types"
)

const intentNode = "intent_validator"

// validateIntent is the LLM-backed safety gate. Unsafe classification emits
// a critical INTENT_VIOLATION and short-circuits the graph to synthesis.
// When no LLM is configured, the gate degrades to a warning (fail-open for
// embedded deployments, mirroring the MISSING_LLM contract).
func (o *Orchestrator) validateIntent(ctx context.Context, state *GraphState) Delta {
	defer o.Metrics.TimeNode(intentNode, "")()

	result, err := agents.Invoke[agents.IntentValidationResult](
		ctx, o.LLM, intentNode, intentSystemPrompt, state.UserQuery)
	if err != nil {
		rec := agents.ErrorRecord(intentNode, err)
		if rec.Code == types.ErrMissingLLM {
			return Delta{Errors: []types.PipelineError{
				types.NewWarning(intentNode, types.ErrMissingLLM, "intent validator LLM not configured"),
			}}
		}
		return Delta{Errors: []types.PipelineError{rec}}
	}

	if !result.IsSafe {
		logging.For(ctx, logging.CategoryOrchestrator).Warnw("intent violation",
			"category", result.ViolationCategory)
		o.Audit.LogEvent(logging.AuditSecurityViolation, map[string]any{
			"node":     intentNode,
			"category": result.ViolationCategory,
			"reason":   result.Reasoning,
		}, state.TraceID, state.User.TenantID)

		violation := types.NewCritical(intentNode, types.ErrIntentViolation,
			fmt.Sprintf("security violation: %s", result.Reasoning))
		violation.Details = map[string]any{"category": result.ViolationCategory}
		return Delta{
			Errors:    []types.PipelineError{violation},
			Reasoning: []types.ReasoningEntry{{Node: intentNode, Content: "BLOCKED: " + result.ViolationCategory}},
		}
	}

	return Delta{Reasoning: []types.ReasoningEntry{{Node: intentNode, Content: "SAFE. " + result.Reasoning}}}
}
