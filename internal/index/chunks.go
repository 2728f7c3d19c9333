// Package index is the embedding-backed retrieval layer over datasource,
// table, column, relationship, and example chunks. Chunks are rewritten
// atomically per schema version; eviction of a version deletes its chunks.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"datalens/internal/adapter"
)

// ChunkType tags what a chunk describes.
type ChunkType string

const (
	ChunkDatasource   ChunkType = "datasource"
	ChunkTable        ChunkType = "table"
	ChunkColumn       ChunkType = "column"
	ChunkRelationship ChunkType = "relationship"
	ChunkExample      ChunkType = "example"
)

// Chunk is one indexed unit of retrieval. IDs are deterministic in the
// identifying fields so re-indexing the same content is idempotent.
type Chunk struct {
	ID            string    `json:"id"`
	DatasourceID  string    `json:"datasource_id"`
	SchemaVersion string    `json:"schema_version"`
	Type          ChunkType `json:"type"`
	Table         string    `json:"table,omitempty"`
	Column        string    `json:"column,omitempty"`
	Content       string    `json:"content"`
}

// chunkID derives the deterministic id.
func chunkID(datasourceID, schemaVersion string, t ChunkType, table, column string) string {
	h := sha256.Sum256([]byte(strings.Join([]string{datasourceID, schemaVersion, string(t), table, column}, "\x1f")))
	return "ch_" + hex.EncodeToString(h[:])[:16]
}

// NewChunk builds a chunk with its deterministic id.
func NewChunk(datasourceID, schemaVersion string, t ChunkType, table, column, content string) Chunk {
	return Chunk{
		ID:            chunkID(datasourceID, schemaVersion, t, table, column),
		DatasourceID:  datasourceID,
		SchemaVersion: schemaVersion,
		Type:          t,
		Table:         table,
		Column:        column,
		Content:       content,
	}
}

// BuildSchemaChunks derives the full chunk set for one snapshot version:
// one datasource chunk, one chunk per table, per column, per foreign key,
// plus one chunk per example question.
func BuildSchemaChunks(snapshot adapter.SchemaSnapshot, schemaVersion string, exampleQuestions []string) []Chunk {
	ds := snapshot.DatasourceID
	var chunks []Chunk

	desc := snapshot.Metadata.Description
	if desc == "" {
		desc = fmt.Sprintf("Datasource %s with tables: %s", ds, strings.Join(snapshot.Contract.TableOrder, ", "))
	}
	chunks = append(chunks, NewChunk(ds, schemaVersion, ChunkDatasource, "", "", desc))

	for _, table := range snapshot.Contract.TableOrder {
		tc := snapshot.Contract.Tables[table]
		tm := snapshot.Metadata.Tables[table]

		var cols []string
		for _, c := range tc.Columns {
			cols = append(cols, c.Name)
		}
		tableText := fmt.Sprintf("Table %s with columns: %s.", table, strings.Join(cols, ", "))
		if tm.Description != "" {
			tableText += " " + tm.Description
		}
		chunks = append(chunks, NewChunk(ds, schemaVersion, ChunkTable, table, "", tableText))

		for _, c := range tc.Columns {
			cm := tm.Columns[c.Name]
			colText := fmt.Sprintf("Column %s.%s of type %s.", table, c.Name, c.Type)
			if cm.Description != "" {
				colText += " " + cm.Description
			}
			if len(cm.Synonyms) > 0 {
				colText += " Also known as: " + strings.Join(cm.Synonyms, ", ") + "."
			}
			chunks = append(chunks, NewChunk(ds, schemaVersion, ChunkColumn, table, c.Name, colText))
		}

		for _, fk := range tc.ForeignKeys {
			relText := fmt.Sprintf("Relationship: %s.%s references %s.%s (%s).",
				table, fk.Column, fk.ReferencedTable, fk.ReferencedColumn, fk.Cardinality)
			chunks = append(chunks, NewChunk(ds, schemaVersion, ChunkRelationship, table, fk.Column, relText))
		}
	}

	sort.Strings(exampleQuestions)
	for i, q := range exampleQuestions {
		chunks = append(chunks, NewChunk(ds, schemaVersion, ChunkExample, "", fmt.Sprintf("q%03d", i), q))
	}
	return chunks
}

// ScoredChunk is a retrieval hit with its similarity score.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}
