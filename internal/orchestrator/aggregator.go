package orchestrator

import (
	"context"
	"fmt"

	"datalens/internal/engine"
	"datalens/internal/logging"
	"datalens/internal/types"
)

const aggregatorNode = "engine_aggregator"

// aggregate walks the DAG beyond the scans, reading input frames from the
// artifact store and applying the declared operators in the deterministic
// engine. Terminal nodes blocked by upstream failure are skipped with a
// warning; the rest land in terminal_results.
func (o *Orchestrator) aggregate(ctx context.Context, state *GraphState) Delta {
	defer o.Metrics.TimeNode(aggregatorNode, "")()
	log := logging.For(ctx, logging.CategoryOrchestrator)

	d := Delta{
		TerminalResults: make(map[string][]map[string]any),
		ComputedRefs:    make(map[string]types.ArtifactRef),
	}

	computed := make(map[string]engine.Relation)

	// loadInput materializes one input: scans from the artifact store,
	// steps from already-computed relations.
	loadInput := func(in types.InputRef) (engine.Relation, error) {
		switch in.Source {
		case types.SourceScan:
			ref, ok := state.ArtifactRefs[in.ID]
			if !ok {
				// Scan inputs may also be named by node id.
				if node, found := state.DAG.Node(in.ID); found && node.Kind == types.NodeScan {
					if r, ok2 := state.ArtifactRefs[node.SubQueryID]; ok2 {
						ref = r
						ok = true
					}
				}
			}
			if !ok {
				return engine.Relation{}, fmt.Errorf("scan %s produced no artifact", in.ID)
			}
			frame, err := o.Artifacts.ReadResultFrame(ctx, ref)
			if err != nil {
				return engine.Relation{}, fmt.Errorf("artifact for %s unreadable: %v", in.ID, err)
			}
			return engine.FromFrame(frame), nil
		case types.SourceStep:
			rel, ok := computed[in.ID]
			if !ok {
				return engine.Relation{}, fmt.Errorf("step %s was not computed", in.ID)
			}
			return rel, nil
		default:
			return engine.Relation{}, fmt.Errorf("unknown input source %q", in.Source)
		}
	}

	// Evaluate combine layers in dependency order; layer 0 is scans.
	failed := make(map[string]string) // node id → reason
	for li, layer := range state.DAG.Layers {
		if li == 0 {
			continue
		}
		for _, nodeID := range layer {
			node, ok := state.DAG.Node(nodeID)
			if !ok || node.Kind == types.NodeScan {
				continue
			}

			var inputs []engine.Relation
			var failReason string
			for _, in := range node.Inputs {
				if reason, bad := failed[in.ID]; bad {
					failReason = reason
					break
				}
				rel, err := loadInput(in)
				if err != nil {
					failReason = err.Error()
					break
				}
				inputs = append(inputs, rel)
			}
			if failReason != "" {
				failed[nodeID] = failReason
				continue
			}

			out, err := engine.Apply(node, inputs)
			if err != nil {
				failed[nodeID] = err.Error()
				d.Errors = append(d.Errors, types.NewError(aggregatorNode, types.ErrAggregatorFailed,
					fmt.Sprintf("combine node %s failed: %v", nodeID, err)))
				continue
			}
			computed[nodeID] = out
		}
	}

	// Collect terminal results; skipped terminals get explanatory warnings.
	terminals := state.DAG.TerminalNodes()
	for _, node := range terminals {
		switch node.Kind {
		case types.NodeScan:
			ref, ok := state.ArtifactRefs[node.SubQueryID]
			if !ok {
				d.Errors = append(d.Errors, skippedWarning(node.NodeID, "its scan failed upstream"))
				continue
			}
			frame, err := o.Artifacts.ReadResultFrame(ctx, ref)
			if err != nil {
				d.Errors = append(d.Errors, skippedWarning(node.NodeID, "its artifact is unreadable"))
				continue
			}
			d.TerminalResults[node.NodeID] = frame.RowMaps()
		default:
			rel, ok := computed[node.NodeID]
			if !ok {
				reason := failed[node.NodeID]
				if reason == "" {
					reason = "an upstream input failed"
				}
				d.Errors = append(d.Errors, skippedWarning(node.NodeID, reason))
				continue
			}
			d.TerminalResults[node.NodeID] = rel.Rows

			// Persist combined terminals so downstream consumers can fetch
			// them like any other relation.
			frame := rel.ToFrame(node.OutputSchema)
			ref, err := o.Artifacts.WriteResultFrame(ctx, frame, types.ArtifactKey{
				TenantID:     state.User.TenantID,
				RequestID:    state.TraceID,
				SubgraphName: "engine",
				DAGNodeID:    node.NodeID,
			})
			if err == nil {
				d.ComputedRefs[node.NodeID] = ref
			}
		}
	}

	log.Debugw("aggregation complete",
		"terminals", len(terminals), "produced", len(d.TerminalResults), "skipped", len(terminals)-len(d.TerminalResults))
	d.Reasoning = append(d.Reasoning, types.ReasoningEntry{
		Node:    aggregatorNode,
		Content: fmt.Sprintf("evaluated %d terminal nodes", len(d.TerminalResults)),
	})
	return d
}

func skippedWarning(nodeID, reason string) types.PipelineError {
	w := types.NewWarning(aggregatorNode, types.ErrAggregatorFailed,
		fmt.Sprintf("terminal node %s was skipped because %s", nodeID, reason))
	return w
}
