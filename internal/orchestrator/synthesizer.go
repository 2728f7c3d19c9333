package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"datalens/internal/agents"
	"datalens/internal/types"
)

const synthesizerNode = "answer_synthesizer"

// synthesize always produces a user-visible answer. With healthy inputs it
// asks the LLM for a grounded summary; with nothing usable (or no LLM) it
// composes a deterministic text answer from the safe error messages and
// unmapped fragments.
func (o *Orchestrator) synthesize(ctx context.Context, state *GraphState) Delta {
	defer o.Metrics.TimeNode(synthesizerNode, "")()

	unmapped := collectUnmapped(state)
	failures := collectSafeFailures(state)

	if len(state.TerminalResults) == 0 {
		answer := fallbackAnswer(state, unmapped, failures)
		return Delta{Answer: &answer}
	}

	resultsJSON, _ := json.MarshalIndent(state.TerminalResults, "", "  ")
	user := fmt.Sprintf(synthesizerUserTemplate,
		state.UserQuery, string(resultsJSON), renderList(unmapped), renderList(failures))

	resp, err := agents.Invoke[agents.AggregatedResponse](ctx, o.LLM, synthesizerNode, synthesizerSystemPrompt, user)
	if err != nil {
		// The synthesizer must answer even when the LLM cannot.
		answer := fallbackAnswer(state, unmapped, failures)
		answer.Warnings = append(answer.Warnings, "answer synthesis degraded; showing raw results")
		answer.Content = string(resultsJSON)
		return Delta{
			Answer: &answer,
			Errors: []types.PipelineError{
				types.NewWarning(synthesizerNode, types.ErrUnknown, "answer synthesis degraded"),
			},
		}
	}

	resp.FormatType = agents.ValidFormatType(resp.FormatType)
	for _, u := range unmapped {
		resp.Warnings = appendUnique(resp.Warnings, u)
	}
	return Delta{
		Answer:    &resp,
		Reasoning: []types.ReasoningEntry{{Node: synthesizerNode, Content: "answer synthesized: " + resp.Summary}},
	}
}

func collectUnmapped(state *GraphState) []string {
	if state.Decomposer == nil {
		return nil
	}
	var out []string
	for _, u := range state.Decomposer.UnmappedSubQueries {
		out = append(out, fmt.Sprintf("%s (%s)", u.Intent, u.Reason))
	}
	return out
}

func collectSafeFailures(state *GraphState) []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range state.Errors {
		if e.Severity == types.SeverityWarning {
			continue
		}
		msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
		if !seen[msg] {
			seen[msg] = true
			out = append(out, msg)
		}
	}
	return out
}

// fallbackAnswer is the deterministic no-LLM / all-failed path: a text
// answer summarizing what failed and why.
func fallbackAnswer(state *GraphState, unmapped, failures []string) agents.AggregatedResponse {
	var b strings.Builder
	switch {
	case types.HasCode(state.Errors, types.ErrIntentViolation):
		b.WriteString("This request was declined by the safety policy.")
	case types.HasCode(state.Errors, types.ErrCancelled):
		b.WriteString("The request was cancelled before completion.")
	case types.HasCode(state.Errors, types.ErrPipelineTimeout):
		b.WriteString("The request ran out of time before completion.")
	case len(failures) > 0:
		b.WriteString("The question could not be answered.")
	default:
		b.WriteString("No results were produced for this question.")
	}
	if len(failures) > 0 {
		b.WriteString("\n\nWhat went wrong:\n")
		for _, f := range failures {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
	}
	if len(unmapped) > 0 {
		b.WriteString("\nParts with no available datasource:\n")
		for _, u := range unmapped {
			b.WriteString("- ")
			b.WriteString(u)
			b.WriteString("\n")
		}
	}
	return agents.AggregatedResponse{
		Summary:    "The request did not produce results.",
		FormatType: "text",
		Content:    b.String(),
		Warnings:   append(append([]string{}, failures...), unmapped...),
	}
}

func renderList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return "- " + strings.Join(items, "\n- ")
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
