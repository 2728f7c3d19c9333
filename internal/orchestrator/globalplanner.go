package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"datalens/internal/agents"
	"datalens/internal/logging"
	"datalens/internal/types"
)

const globalPlannerNode = "global_planner"

// planGlobal emits the execution DAG over the decomposed sub-queries. The
// decomposer's combine skeleton and the LLM planner both feed it; an invalid
// or missing LLM plan degrades to the deterministic scan-only DAG so a
// planner outage never loses the scans.
func (o *Orchestrator) planGlobal(ctx context.Context, state *GraphState) Delta {
	defer o.Metrics.TimeNode(globalPlannerNode, "")()
	log := logging.For(ctx, logging.CategoryOrchestrator)

	subQueries := state.Decomposer.SubQueries

	var dag *types.ExecutionDAG
	var reasoning string

	// The decomposer may already carry combine groups; prefer a single
	// authoritative DAG from the global planner when an LLM is present.
	if o.LLM != nil && o.LLM.Client != nil {
		sqJSON, _ := json.MarshalIndent(subQueries, "", "  ")
		user := fmt.Sprintf(globalPlannerUserTemplate, state.UserQuery, string(sqJSON))
		resp, err := agents.Invoke[agents.GlobalPlannerResponse](ctx, o.LLM, globalPlannerNode, globalPlannerSystemPrompt, user)
		if err == nil {
			candidate := resp.DAG
			completeScanNodes(&candidate, subQueries)
			if verr := candidate.Validate(); verr == nil {
				dag = &candidate
				reasoning = resp.Reasoning
			} else {
				log.Warnw("global planner DAG invalid, using scan-only fallback", "error", verr.Error())
			}
		} else {
			log.Warnw("global planner degraded, using scan-only fallback", "error", err.Error())
		}
	}

	if dag == nil {
		fallback := scanOnlyDAG(subQueries, state.Decomposer)
		dag = &fallback
		if reasoning == "" {
			reasoning = "deterministic scan plan"
		}
	}

	dag.ComputeLayers()

	d := Delta{DAG: dag}
	d.Reasoning = append(d.Reasoning, types.ReasoningEntry{
		Node:    globalPlannerNode,
		Content: fmt.Sprintf("planned %d nodes in %d layers: %s", len(dag.Nodes), len(dag.Layers), reasoning),
	})
	return d
}

// completeScanNodes fills in scan nodes the planner omitted and default
// schemas for scans, so a terse-but-correct plan still validates.
func completeScanNodes(dag *types.ExecutionDAG, subQueries []types.SubQuery) {
	have := make(map[string]bool)
	for _, n := range dag.Nodes {
		if n.Kind == types.NodeScan {
			have[n.SubQueryID] = true
		}
	}
	for _, sq := range subQueries {
		if !have[sq.ID] {
			dag.Nodes = append(dag.Nodes, scanNode(sq))
		}
	}
	for i, n := range dag.Nodes {
		if n.Kind == types.NodeScan && len(n.OutputSchema.Columns) == 0 {
			dag.Nodes[i].OutputSchema = scanSchema(subQueries, n.SubQueryID)
		}
	}
}

func scanNode(sq types.SubQuery) types.DAGNode {
	return types.DAGNode{
		NodeID:       "scan_" + sq.ID,
		Kind:         types.NodeScan,
		SubQueryID:   sq.ID,
		OutputSchema: scanSchemaFor(sq),
	}
}

func scanSchema(subQueries []types.SubQuery, id string) types.OutputSchema {
	for _, sq := range subQueries {
		if sq.ID == id {
			return scanSchemaFor(sq)
		}
	}
	return types.OutputSchema{Columns: []types.OutputColumn{{Name: "result"}}}
}

func scanSchemaFor(sq types.SubQuery) types.OutputSchema {
	if len(sq.ExpectedColumns) > 0 {
		cols := make([]types.OutputColumn, len(sq.ExpectedColumns))
		for i, c := range sq.ExpectedColumns {
			cols[i] = types.OutputColumn{Name: c}
		}
		return types.OutputSchema{Columns: cols}
	}
	return types.OutputSchema{Columns: []types.OutputColumn{{Name: "result"}}}
}

// scanOnlyDAG builds the deterministic fallback: one scan per sub-query plus
// whatever combine skeleton the decomposer already declared, when it
// validates.
func scanOnlyDAG(subQueries []types.SubQuery, dec *agents.DecomposerResponse) types.ExecutionDAG {
	var dag types.ExecutionDAG
	for _, sq := range subQueries {
		dag.Nodes = append(dag.Nodes, scanNode(sq))
	}
	if dec != nil && (len(dec.CombineGroups) > 0 || len(dec.PostCombineOps) > 0) {
		candidate := dag
		candidate.Nodes = append(candidate.Nodes, dec.CombineGroups...)
		candidate.Nodes = append(candidate.Nodes, dec.PostCombineOps...)
		if candidate.Validate() == nil {
			return candidate
		}
	}
	return dag
}
