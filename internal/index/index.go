package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"datalens/internal/embedding"
	"datalens/internal/logging"
	dlsqlite "datalens/internal/sqlite"
)

// Index is the retrieval surface consumed by the resolver and the schema
// retriever. Callers enforce schema-version freshness on hits; the index
// only reports what each chunk was embedded against.
type Index interface {
	// RefreshSchemaChunks deletes all chunks for evictedVersions and for the
	// (datasource, version) being written, then inserts the new chunks, in
	// one atomic sweep.
	RefreshSchemaChunks(ctx context.Context, datasourceID, schemaVersion string, chunks []Chunk, evictedVersions []string) error

	// RetrieveDatasourceCandidates returns datasource-level chunks ranked by
	// similarity across all datasources.
	RetrieveDatasourceCandidates(ctx context.Context, query string, k int) ([]ScoredChunk, error)

	// RetrieveSchemaContext returns table-level chunks within a datasource.
	RetrieveSchemaContext(ctx context.Context, query, datasourceID string, k int) ([]ScoredChunk, error)

	// RetrievePlanningContext returns column/relationship chunks restricted
	// to the given tables.
	RetrievePlanningContext(ctx context.Context, query, datasourceID string, tables []string, k int) ([]ScoredChunk, error)
}

// SQLiteIndex stores chunks and embeddings in an embedded database. The
// embedding column keeps a JSON vector for portability. Search is always a
// brute-force cosine scan over the candidate rows; no ANN table is created,
// including in the sqlite-vec build.
type SQLiteIndex struct {
	db     *sql.DB
	engine embedding.Engine
	// mmrLambda balances relevance against diversity in the re-rank pass.
	mmrLambda float64
}

const indexDDL = `
CREATE TABLE IF NOT EXISTS chunks (
	id             TEXT PRIMARY KEY,
	datasource_id  TEXT NOT NULL,
	schema_version TEXT NOT NULL,
	type           TEXT NOT NULL,
	tbl            TEXT NOT NULL DEFAULT '',
	col            TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL,
	embedding      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_scope ON chunks(datasource_id, schema_version, type);
`

// NewSQLiteIndex opens (or creates) the index at path.
func NewSQLiteIndex(path string, engine embedding.Engine) (*SQLiteIndex, error) {
	db, err := dlsqlite.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(indexDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create chunk tables: %w", err)
	}
	return &SQLiteIndex{db: db, engine: engine, mmrLambda: 0.7}, nil
}

// Close releases the underlying database.
func (ix *SQLiteIndex) Close() error { return ix.db.Close() }

// RefreshSchemaChunks implements Index.
func (ix *SQLiteIndex) RefreshSchemaChunks(ctx context.Context, datasourceID, schemaVersion string, chunks []Chunk, evictedVersions []string) error {
	log := logging.For(ctx, logging.CategoryIndex)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := ix.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: %d vectors for %d chunks", len(vectors), len(chunks))
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, v := range evictedVersions {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE datasource_id = ? AND schema_version = ?`, datasourceID, v); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE datasource_id = ? AND schema_version = ?`, datasourceID, schemaVersion); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, datasource_id, schema_version, type, tbl, col, content, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, c := range chunks {
		vecJSON, err := json.Marshal(vectors[i])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.DatasourceID, c.SchemaVersion, string(c.Type), c.Table, c.Column, c.Content, string(vecJSON)); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Infow("schema chunks refreshed",
		"datasource_id", datasourceID,
		"schema_version", schemaVersion,
		"chunks", len(chunks),
		"evicted_versions", len(evictedVersions))
	return nil
}

// RetrieveDatasourceCandidates implements Index.
func (ix *SQLiteIndex) RetrieveDatasourceCandidates(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	return ix.retrieve(ctx, query, k, `type IN (?, ?)`, []any{string(ChunkDatasource), string(ChunkExample)})
}

// RetrieveSchemaContext implements Index.
func (ix *SQLiteIndex) RetrieveSchemaContext(ctx context.Context, query, datasourceID string, k int) ([]ScoredChunk, error) {
	return ix.retrieve(ctx, query, k,
		`datasource_id = ? AND type = ?`, []any{datasourceID, string(ChunkTable)})
}

// RetrievePlanningContext implements Index.
func (ix *SQLiteIndex) RetrievePlanningContext(ctx context.Context, query, datasourceID string, tables []string, k int) ([]ScoredChunk, error) {
	if len(tables) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tables)), ",")
	args := []any{datasourceID, string(ChunkColumn), string(ChunkRelationship)}
	for _, t := range tables {
		args = append(args, t)
	}
	where := fmt.Sprintf(`datasource_id = ? AND type IN (?, ?) AND tbl IN (%s)`, placeholders)
	return ix.retrieve(ctx, query, k, where, args)
}

// retrieve embeds the query and ranks matching chunks by cosine similarity,
// then applies a max-marginal-relevance pass for diversity.
func (ix *SQLiteIndex) retrieve(ctx context.Context, query string, k int, where string, args []any) ([]ScoredChunk, error) {
	if k <= 0 {
		k = 5
	}
	queryVec, err := ix.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := ix.db.QueryContext(ctx,
		`SELECT id, datasource_id, schema_version, type, tbl, col, content, embedding FROM chunks WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type candidate struct {
		chunk Chunk
		vec   []float32
		score float64
	}
	var candidates []candidate
	for rows.Next() {
		var c Chunk
		var typeStr, vecJSON string
		if err := rows.Scan(&c.ID, &c.DatasourceID, &c.SchemaVersion, &typeStr, &c.Table, &c.Column, &c.Content, &vecJSON); err != nil {
			return nil, err
		}
		c.Type = ChunkType(typeStr)
		var vec []float32
		if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil {
			continue // corrupt row; skip rather than fail retrieval
		}
		score, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{chunk: c, vec: vec, score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	// MMR: greedily pick high-relevance chunks penalized by similarity to
	// already-selected ones.
	var selected []ScoredChunk
	var selectedVecs [][]float32
	pool := candidates
	for len(selected) < k && len(pool) > 0 {
		bestIdx, bestVal := 0, math.Inf(-1)
		for i, cand := range pool {
			redundancy := 0.0
			for _, sv := range selectedVecs {
				if sim, err := embedding.CosineSimilarity(cand.vec, sv); err == nil && sim > redundancy {
					redundancy = sim
				}
			}
			val := ix.mmrLambda*cand.score - (1-ix.mmrLambda)*redundancy
			if val > bestVal {
				bestVal, bestIdx = val, i
			}
		}
		chosen := pool[bestIdx]
		selected = append(selected, ScoredChunk{Chunk: chosen.chunk, Score: chosen.score})
		selectedVecs = append(selectedVecs, chosen.vec)
		pool = append(pool[:bestIdx], pool[bestIdx+1:]...)
	}
	return selected, nil
}
