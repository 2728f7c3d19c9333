package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens/internal/adapter"
	"datalens/internal/embedding/embeddingtest"
)

func manufacturingSnapshot() adapter.SchemaSnapshot {
	return adapter.SchemaSnapshot{
		DatasourceID: "manufacturing",
		Contract: adapter.SchemaContract{
			TableOrder: []string{"main.factories", "main.machines"},
			Tables: map[string]adapter.TableContract{
				"main.factories": {
					Columns: []adapter.ColumnContract{
						{Name: "id", Type: "INTEGER", PrimaryKey: true},
						{Name: "name", Type: "TEXT"},
						{Name: "country", Type: "TEXT"},
					},
				},
				"main.machines": {
					Columns: []adapter.ColumnContract{
						{Name: "id", Type: "INTEGER", PrimaryKey: true},
						{Name: "factory_id", Type: "INTEGER"},
					},
					ForeignKeys: []adapter.ForeignKey{
						{Column: "factory_id", ReferencedTable: "main.factories", ReferencedColumn: "id", Cardinality: adapter.ManyToOne},
					},
				},
			},
		},
		Metadata: adapter.SchemaMetadata{
			Description: "Manufacturing operations: factories and machines",
			Tables: map[string]adapter.TableMetadata{
				"main.factories": {Description: "Production factories by country"},
			},
		},
	}
}

func newTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	ix, err := NewSQLiteIndex(t.TempDir()+"/index.db", embeddingtest.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestBuildSchemaChunksCoversEveryType(t *testing.T) {
	chunks := BuildSchemaChunks(manufacturingSnapshot(), "sv_1", []string{"List all factories in the US"})

	byType := make(map[ChunkType]int)
	for _, c := range chunks {
		byType[c.Type]++
		assert.Equal(t, "manufacturing", c.DatasourceID)
		assert.Equal(t, "sv_1", c.SchemaVersion)
		assert.NotEmpty(t, c.ID)
		assert.NotEmpty(t, c.Content)
	}
	assert.Equal(t, 1, byType[ChunkDatasource])
	assert.Equal(t, 2, byType[ChunkTable])
	assert.Equal(t, 5, byType[ChunkColumn])
	assert.Equal(t, 1, byType[ChunkRelationship])
	assert.Equal(t, 1, byType[ChunkExample])
}

func TestChunkIDsDeterministic(t *testing.T) {
	a := NewChunk("ds", "v1", ChunkTable, "main.t", "", "text A")
	b := NewChunk("ds", "v1", ChunkTable, "main.t", "", "text B")
	c := NewChunk("ds", "v2", ChunkTable, "main.t", "", "text A")
	assert.Equal(t, a.ID, b.ID) // identity excludes content
	assert.NotEqual(t, a.ID, c.ID)
}

func TestRefreshAndRetrieveSchemaContext(t *testing.T) {
	ix := newTestIndex(t)
	chunks := BuildSchemaChunks(manufacturingSnapshot(), "sv_1", nil)
	require.NoError(t, ix.RefreshSchemaChunks(t.Context(), "manufacturing", "sv_1", chunks, nil))

	hits, err := ix.RetrieveSchemaContext(t.Context(), "factories by country", "manufacturing", 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, ChunkTable, hits[0].Chunk.Type)
	assert.Equal(t, "main.factories", hits[0].Chunk.Table)
}

func TestRetrievePlanningContextRestrictedToTables(t *testing.T) {
	ix := newTestIndex(t)
	chunks := BuildSchemaChunks(manufacturingSnapshot(), "sv_1", nil)
	require.NoError(t, ix.RefreshSchemaChunks(t.Context(), "manufacturing", "sv_1", chunks, nil))

	hits, err := ix.RetrievePlanningContext(t.Context(), "factory country name", "manufacturing", []string{"main.factories"}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.Equal(t, "main.factories", h.Chunk.Table)
	}

	none, err := ix.RetrievePlanningContext(t.Context(), "anything", "manufacturing", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRefreshSweepsEvictedVersions(t *testing.T) {
	ix := newTestIndex(t)
	snap := manufacturingSnapshot()

	v1chunks := BuildSchemaChunks(snap, "sv_1", nil)
	require.NoError(t, ix.RefreshSchemaChunks(t.Context(), "manufacturing", "sv_1", v1chunks, nil))

	v2chunks := BuildSchemaChunks(snap, "sv_2", nil)
	require.NoError(t, ix.RefreshSchemaChunks(t.Context(), "manufacturing", "sv_2", v2chunks, []string{"sv_1"}))

	hits, err := ix.RetrieveSchemaContext(t.Context(), "factories", "manufacturing", 10)
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, "sv_2", h.Chunk.SchemaVersion, "evicted version chunks must be gone")
	}
}

func TestRetrieveDatasourceCandidates(t *testing.T) {
	ix := newTestIndex(t)
	mfg := BuildSchemaChunks(manufacturingSnapshot(), "sv_1", []string{"List all factories in the US"})
	require.NoError(t, ix.RefreshSchemaChunks(t.Context(), "manufacturing", "sv_1", mfg, nil))

	other := adapter.SchemaSnapshot{
		DatasourceID: "suppliers",
		Contract: adapter.SchemaContract{
			TableOrder: []string{"main.suppliers"},
			Tables: map[string]adapter.TableContract{
				"main.suppliers": {Columns: []adapter.ColumnContract{{Name: "id"}, {Name: "country"}}},
			},
		},
		Metadata: adapter.SchemaMetadata{Description: "Supplier directory with countries"},
	}
	sup := BuildSchemaChunks(other, "sv_9", nil)
	require.NoError(t, ix.RefreshSchemaChunks(t.Context(), "suppliers", "sv_9", sup, nil))

	hits, err := ix.RetrieveDatasourceCandidates(t.Context(), "factories in the US", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "manufacturing", hits[0].Chunk.DatasourceID)
}
