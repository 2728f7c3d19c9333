package subquery

import (
	"context"
	"fmt"
	"strings"

	"datalens/internal/index"
	"datalens/internal/logging"
	"datalens/internal/types"
)

const retrieverNode = "schema_retriever"

// retrieveSchema gathers the top-k tables for the intent, then the columns
// and relationships restricted to those tables. If retrieval yields nothing
// (cold index, degraded vector plane) it falls back to the full snapshot.
func (p *Pipeline) retrieveSchema(ctx context.Context, s *state) []types.PipelineError {
	log := logging.For(ctx, logging.CategorySubquery)
	sq := s.req.SubQuery

	version := s.req.SchemaVersion
	if version == "" {
		v, err := p.Schema.GetLatestVersion(ctx, sq.DatasourceID)
		if err != nil {
			return []types.PipelineError{
				types.NewError(retrieverNode, types.ErrSchemaRetrieval,
					fmt.Sprintf("no schema registered for datasource %s", sq.DatasourceID)),
			}
		}
		version = v
	}
	s.schemaVersion = version

	snap, err := p.Schema.GetSnapshot(ctx, sq.DatasourceID, version)
	if err != nil {
		return []types.PipelineError{
			types.NewError(retrieverNode, types.ErrSchemaRetrieval,
				fmt.Sprintf("schema snapshot %s unavailable for datasource %s", version, sq.DatasourceID)),
		}
	}

	tableNames := p.retrieveTableNames(ctx, sq.Intent, sq.DatasourceID)
	if len(tableNames) == 0 {
		// Fall back to the full snapshot so planning can still proceed.
		log.Debugw("retrieval empty, using full snapshot", "datasource_id", sq.DatasourceID)
		tableNames = snap.Contract.TableOrder
		s.addReasoning(retrieverNode, "retrieval yielded nothing; using full schema snapshot")
	}

	var tables []RetrievedTable
	for _, name := range tableNames {
		tc, ok := snap.Contract.Tables[name]
		if !ok {
			continue
		}
		tables = append(tables, RetrievedTable{Name: name, Columns: tc.Columns})
	}
	if len(tables) == 0 {
		return []types.PipelineError{
			types.NewError(retrieverNode, types.ErrSchemaRetrieval,
				fmt.Sprintf("no usable tables for datasource %s", sq.DatasourceID)),
		}
	}

	s.tables = tables
	s.addReasoning(retrieverNode, fmt.Sprintf("retrieved %d tables for planning", len(tables)))
	return nil
}

// retrieveTableNames queries the index through the vector breaker. Failures
// degrade to an empty result; the caller falls back to the full snapshot.
func (p *Pipeline) retrieveTableNames(ctx context.Context, query, datasourceID string) []string {
	if p.Index == nil {
		return nil
	}
	res, err := p.Breakers.Vector.Do(func() (any, error) {
		return p.Index.RetrieveSchemaContext(ctx, query, datasourceID, p.cfg.TopKTables)
	})
	if err != nil {
		logging.For(ctx, logging.CategorySubquery).Warnw("schema retrieval degraded",
			"datasource_id", datasourceID, "error", err.Error())
		return nil
	}
	hits, _ := res.([]index.ScoredChunk)
	var names []string
	for _, h := range hits {
		if h.Chunk.Table != "" {
			names = append(names, h.Chunk.Table)
		}
	}
	return names
}

// planningContext renders the retrieved tables plus top-k column and
// relationship chunks into the planner prompt's schema section.
func (p *Pipeline) planningContext(ctx context.Context, s *state) string {
	var b strings.Builder
	for _, t := range s.tables {
		b.WriteString("Table ")
		b.WriteString(t.Name)
		b.WriteString(" (")
		for i, c := range t.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
			b.WriteString(" ")
			b.WriteString(c.Type)
			if c.PrimaryKey {
				b.WriteString(" PK")
			}
		}
		b.WriteString(")\n")
	}

	if p.Index != nil {
		tableNames := make([]string, len(s.tables))
		for i, t := range s.tables {
			tableNames[i] = t.Name
		}
		res, err := p.Breakers.Vector.Do(func() (any, error) {
			return p.Index.RetrievePlanningContext(ctx, s.req.SubQuery.Intent,
				s.req.SubQuery.DatasourceID, tableNames, p.cfg.TopKColumns)
		})
		if err == nil {
			if hits, ok := res.([]index.ScoredChunk); ok && len(hits) > 0 {
				b.WriteString("\nContext:\n")
				for _, h := range hits {
					b.WriteString("- ")
					b.WriteString(h.Chunk.Content)
					b.WriteString("\n")
				}
			}
		}
	}
	return b.String()
}
