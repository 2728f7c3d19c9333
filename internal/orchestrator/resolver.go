package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"datalens/internal/index"
	"datalens/internal/logging"
	"datalens/internal/types"
)

const resolverNode = "datasource_resolver"

// resolveDatasources retrieves candidate datasources from the index,
// intersects them with the RBAC-allowed set, filters out those lacking
// SUPPORTS_SQL, and applies the schema-version mismatch policy per
// candidate. With no index hits it falls back to the allowed, registered
// set so a cold index never blanks routing.
func (o *Orchestrator) resolveDatasources(ctx context.Context, state *GraphState) Delta {
	defer o.Metrics.TimeNode(resolverNode, "")()
	log := logging.For(ctx, logging.CategoryOrchestrator)

	var d Delta

	allowed := make(map[string]bool)
	wildcard := false
	for _, ds := range o.RBAC.AllowedDatasources(state.User) {
		if ds == "*" {
			wildcard = true
			continue
		}
		allowed[ds] = true
	}
	isAllowed := func(id string) bool { return wildcard || allowed[id] }

	// Candidate scores from the retrieval index, via the vector breaker.
	scores := make(map[string]float64)
	descriptions := make(map[string]string)
	versions := make(map[string]string)
	if o.Index != nil {
		res, err := o.Breakers.Vector.Do(func() (any, error) {
			return o.Index.RetrieveDatasourceCandidates(ctx, state.UserQuery, o.cfg.TopKDatasources)
		})
		if err != nil {
			log.Warnw("datasource retrieval degraded", "error", err.Error())
			d.Errors = append(d.Errors, types.NewWarning(resolverNode, types.ErrSchemaRetrieval,
				"datasource retrieval degraded; using policy-allowed set"))
		} else if hits, ok := res.([]index.ScoredChunk); ok {
			for _, h := range hits {
				id := h.Chunk.DatasourceID
				if h.Score > scores[id] {
					scores[id] = h.Score
					descriptions[id] = h.Chunk.Content
					versions[id] = h.Chunk.SchemaVersion
				}
			}
		}
	}

	candidateIDs := make([]string, 0, len(scores))
	for id := range scores {
		candidateIDs = append(candidateIDs, id)
	}
	sort.Strings(candidateIDs)
	if len(candidateIDs) == 0 {
		candidateIDs = o.Registry.IDs()
	}

	var resolved []ResolvedDatasource
	var allowedIDs, unsupported []string
	for _, id := range candidateIDs {
		if !isAllowed(id) {
			continue
		}
		caps := o.Registry.Capabilities(id)
		if !caps.Has(types.CapSQL) {
			unsupported = append(unsupported, id)
			continue
		}

		current, err := o.Schema.GetLatestVersion(ctx, id)
		if err != nil {
			d.Errors = append(d.Errors, types.NewWarning(resolverNode, types.ErrSchemaRetrieval,
				fmt.Sprintf("datasource %s has no registered schema", id)))
			continue
		}
		if chunkVersion := versions[id]; chunkVersion != "" {
			keep, rec := o.cfg.Mismatch.Apply(resolverNode, id, chunkVersion, current)
			if rec != nil {
				d.Errors = append(d.Errors, *rec)
			}
			if !keep {
				continue
			}
		}

		resolved = append(resolved, ResolvedDatasource{
			DatasourceID:  id,
			SchemaVersion: current,
			Score:         scores[id],
			Description:   descriptions[id],
		})
		allowedIDs = append(allowedIDs, id)
	}

	sort.SliceStable(resolved, func(i, j int) bool { return resolved[i].Score > resolved[j].Score })

	d.ResolvedDatasources = resolved
	d.AllowedDatasourceIDs = allowedIDs
	d.UnsupportedDatasourceIDs = unsupported
	d.Reasoning = append(d.Reasoning, types.ReasoningEntry{
		Node:    resolverNode,
		Content: fmt.Sprintf("resolved %d datasources (%d unsupported)", len(resolved), len(unsupported)),
	})

	if len(resolved) == 0 {
		d.Errors = append(d.Errors, types.NewError(resolverNode, types.ErrSecurityViolation,
			"no accessible datasource can serve this request"))
	}
	return d
}
