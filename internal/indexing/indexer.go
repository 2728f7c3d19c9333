// Package indexing drives the background schema refresh: introspect each
// datasource in the indexing pool, register the snapshot, and atomically
// rebuild its retrieval chunks.
package indexing

import (
	"context"
	"fmt"
	"time"

	"datalens/internal/adapter"
	"datalens/internal/index"
	"datalens/internal/logging"
	"datalens/internal/sandbox"
	"datalens/internal/schema"
	"datalens/internal/types"
)

// Indexer wires the introspection flow.
type Indexer struct {
	Registry *adapter.Registry
	Schema   schema.Store
	Index    index.Index
	Pools    *sandbox.Manager
	Audit    *logging.AuditLogger

	// IntrospectionTimeout bounds one datasource's schema fetch.
	IntrospectionTimeout time.Duration
	// ExampleQuestions per datasource enrich the routing chunks.
	ExampleQuestions map[string][]string
}

// Result summarizes one datasource's refresh.
type Result struct {
	DatasourceID  string
	SchemaVersion string
	Chunks        int
	Evicted       []string
	Err           error
}

// RefreshAll refreshes every introspectable datasource sequentially through
// the indexing pool. Failures are per-datasource; one bad source never
// blocks the rest.
func (ix *Indexer) RefreshAll(ctx context.Context) []Result {
	var results []Result
	for _, id := range ix.Registry.IDs() {
		results = append(results, ix.Refresh(ctx, id))
	}
	return results
}

// Refresh refreshes one datasource.
func (ix *Indexer) Refresh(ctx context.Context, datasourceID string) Result {
	log := logging.For(ctx, logging.CategoryIndex)
	res := Result{DatasourceID: datasourceID}

	a, err := ix.Registry.Get(datasourceID)
	if err != nil {
		res.Err = err
		return res
	}
	if !a.Capabilities().Has(types.CapSchemaIntrospection) {
		res.Err = fmt.Errorf("datasource %s does not support schema introspection", datasourceID)
		return res
	}

	timeout := ix.IntrospectionTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	// Introspection runs in the indexing pool: it is the slow, crashy part.
	var snapshot adapter.SchemaSnapshot
	poolRes := ix.Pools.Indexing.Submit(ctx, sandbox.ExecutionRequest{
		Mode:         sandbox.ModeFetchSchema,
		DatasourceID: datasourceID,
	}, timeout, func(ctx context.Context, _ sandbox.ExecutionRequest) sandbox.ExecutionResult {
		snap, ferr := a.FetchSchemaSnapshot(ctx)
		if ferr != nil {
			return sandbox.ExecutionResult{Success: false, Error: ferr.Error()}
		}
		return sandbox.ExecutionResult{Success: true, Data: snap}
	})
	if !poolRes.Success {
		res.Err = fmt.Errorf("schema introspection failed: %s", poolRes.Error)
		return res
	}
	snapshot, _ = poolRes.Data.(adapter.SchemaSnapshot)
	if snapshot.DatasourceID == "" {
		snapshot.DatasourceID = datasourceID
	}

	version, evicted, err := ix.Schema.RegisterSnapshot(ctx, snapshot)
	if err != nil {
		res.Err = fmt.Errorf("snapshot registration failed: %w", err)
		return res
	}
	res.SchemaVersion = version
	res.Evicted = evicted

	ix.Audit.LogEvent(logging.AuditSchemaRegistered, map[string]any{
		"datasource_id": datasourceID,
		"version":       version,
		"evicted":       evicted,
	}, logging.TraceID(ctx), logging.TenantID(ctx))

	if ix.Index != nil {
		chunks := index.BuildSchemaChunks(snapshot, version, ix.ExampleQuestions[datasourceID])
		if err := ix.Index.RefreshSchemaChunks(ctx, datasourceID, version, chunks, evicted); err != nil {
			res.Err = fmt.Errorf("chunk refresh failed: %w", err)
			return res
		}
		res.Chunks = len(chunks)
	}

	log.Infow("datasource indexed",
		"datasource_id", datasourceID, "version", version, "chunks", res.Chunks)
	return res
}
