package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"datalens/internal/logging"
	"datalens/internal/subquery"
	"datalens/internal/types"
)

const routerNode = "layer_router"

// nextScanLayer returns the first layer's scan node ids still missing
// artifact refs. Empty means scanning is complete.
func nextScanLayer(dag *types.ExecutionDAG, refs map[string]types.ArtifactRef) []string {
	for _, layer := range dag.Layers {
		var pending []string
		for _, nodeID := range layer {
			node, ok := dag.Node(nodeID)
			if !ok || node.Kind != types.NodeScan {
				continue
			}
			if _, done := refs[node.SubQueryID]; !done {
				pending = append(pending, nodeID)
			}
		}
		if len(pending) > 0 {
			return pending
		}
	}
	return nil
}

// runScanLayer fans the layer's scans out to sub-pipeline instances selected
// by datasource capability. Scheduling is parallel within the layer; the
// merge is commutative because outputs key by sub-query id. Partial failure
// does not abort the layer.
func (o *Orchestrator) runScanLayer(ctx context.Context, state *GraphState, nodeIDs []string) Delta {
	defer o.Metrics.TimeNode(routerNode, "")()
	log := logging.For(ctx, logging.CategoryOrchestrator)

	bySubQuery := make(map[string]types.SubQuery, len(state.Decomposer.SubQueries))
	for _, sq := range state.Decomposer.SubQueries {
		bySubQuery[sq.ID] = sq
	}
	versions := make(map[string]string, len(state.ResolvedDatasources))
	for _, ds := range state.ResolvedDatasources {
		versions[ds.DatasourceID] = ds.SchemaVersion
	}

	var mu sync.Mutex
	delta := Delta{
		ArtifactRefs:    make(map[string]types.ArtifactRef),
		SubgraphOutputs: make(map[string]subquery.Output),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, nodeID := range nodeIDs {
		node, _ := state.DAG.Node(nodeID)
		sq, ok := bySubQuery[node.SubQueryID]
		if !ok {
			mu.Lock()
			delta.Errors = append(delta.Errors, types.NewError(routerNode, types.ErrInvalidState,
				fmt.Sprintf("scan node %s references unknown sub-query %s", nodeID, node.SubQueryID)))
			mu.Unlock()
			continue
		}

		subgraphName, ok := o.selectSubgraph(sq.DatasourceID)
		if !ok {
			mu.Lock()
			delta.Errors = append(delta.Errors, types.NewError(routerNode, types.ErrCapabilityViolation,
				fmt.Sprintf("no sub-pipeline can serve datasource %s", sq.DatasourceID)))
			mu.Unlock()
			continue
		}

		nodeID := nodeID
		g.Go(func() error {
			out := o.Pipeline.Run(gctx, subquery.Request{
				TraceID:       state.TraceID,
				User:          state.User,
				SubQuery:      sq,
				SubgraphName:  subgraphName,
				DAGNodeID:     nodeID,
				SchemaVersion: versions[sq.DatasourceID],
			})

			mu.Lock()
			defer mu.Unlock()
			delta.SubgraphOutputs[out.SubgraphID] = out
			delta.Errors = append(delta.Errors, out.Errors...)
			delta.Reasoning = append(delta.Reasoning, out.Reasoning...)
			if out.Artifact != nil {
				delta.ArtifactRefs[sq.ID] = *out.Artifact
			}
			// Partial failure stays partial: never abort the group.
			return nil
		})
	}
	_ = g.Wait()

	log.Debugw("scan layer complete",
		"scheduled", len(nodeIDs), "artifacts", len(delta.ArtifactRefs))
	return delta
}

// selectSubgraph picks the sub-pipeline flavor for a datasource by its
// capability set. Today one flavor exists; the capability gate is the
// routing contract.
func (o *Orchestrator) selectSubgraph(datasourceID string) (string, bool) {
	caps := o.Registry.Capabilities(datasourceID)
	if caps.Has(types.CapSQL) {
		return "sql_agent", true
	}
	return "", false
}
