package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"datalens/internal/agents"
	"datalens/internal/types"
)

const decomposerNode = "decomposer"

// decompose splits the query into per-datasource sub-queries. Sub-queries
// whose datasource is missing, unresolved, or unsupported are moved to the
// unmapped list rather than failing the request.
func (o *Orchestrator) decompose(ctx context.Context, state *GraphState) Delta {
	defer o.Metrics.TimeNode(decomposerNode, "")()

	var dsLines []string
	resolvedSet := make(map[string]bool, len(state.ResolvedDatasources))
	for _, ds := range state.ResolvedDatasources {
		resolvedSet[ds.DatasourceID] = true
		line := "- " + ds.DatasourceID
		if ds.Description != "" {
			line += ": " + ds.Description
		}
		dsLines = append(dsLines, line)
	}

	user := fmt.Sprintf(decomposerUserTemplate, state.UserQuery, strings.Join(dsLines, "\n"))
	resp, err := agents.Invoke[agents.DecomposerResponse](ctx, o.LLM, decomposerNode, decomposerSystemPrompt, user)
	if err != nil {
		return Delta{Errors: []types.PipelineError{agents.ErrorRecord(decomposerNode, err)}}
	}

	// Re-route sub-queries the LLM aimed at unknown datasources.
	var kept []types.SubQuery
	unmapped := resp.UnmappedSubQueries
	for _, sq := range resp.SubQueries {
		if sq.DatasourceID == "" || !resolvedSet[sq.DatasourceID] {
			unmapped = append(unmapped, agents.UnmappedSubQuery{
				Intent: sq.Intent,
				Reason: fmt.Sprintf("datasource %q is not available to this request", sq.DatasourceID),
			})
			continue
		}
		if sq.ID == "" {
			sq.ID = fmt.Sprintf("sq_%d", len(kept)+1)
		}
		kept = append(kept, sq)
	}
	resp.SubQueries = kept
	resp.UnmappedSubQueries = unmapped

	d := Delta{Decomposer: &resp}
	d.Reasoning = append(d.Reasoning, types.ReasoningEntry{
		Node:    decomposerNode,
		Content: fmt.Sprintf("decomposed into %d sub-queries (%d unmapped)", len(kept), len(unmapped)),
	})
	if len(kept) == 0 {
		d.Errors = append(d.Errors, types.NewError(decomposerNode, types.ErrPlanningFailure,
			"no executable sub-queries could be derived from the question"))
	}
	return d
}
