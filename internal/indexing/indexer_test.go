package indexing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens/internal/adapter"
	"datalens/internal/adapter/adaptertest"
	"datalens/internal/embedding/embeddingtest"
	"datalens/internal/index"
	"datalens/internal/sandbox"
	"datalens/internal/schema"
	"datalens/internal/types"
)

func newIndexer(t *testing.T, fake *adaptertest.Fake) (*Indexer, *index.SQLiteIndex, schema.Store) {
	t.Helper()
	ix, err := index.NewSQLiteIndex(t.TempDir()+"/index.db", embeddingtest.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })

	pools := sandbox.NewManager(1, 1)
	t.Cleanup(pools.Shutdown)
	store := schema.NewMemoryStore(2)

	reg := adapter.NewRegistryFromAdapters(map[string]adapter.Adapter{fake.ID: fake}, nil)
	return &Indexer{Registry: reg, Schema: store, Index: ix, Pools: pools,
		ExampleQuestions: map[string][]string{fake.ID: {"List all factories in the US"}},
	}, ix, store
}

func mfgFake() *adaptertest.Fake {
	fake := adaptertest.NewSQLFake("manufacturing", adaptertest.Frame([]string{"id"}, nil))
	fake.Snapshot = adapter.SchemaSnapshot{
		DatasourceID: "manufacturing",
		Contract: adapter.SchemaContract{
			TableOrder: []string{"main.factories"},
			Tables: map[string]adapter.TableContract{
				"main.factories": {Columns: []adapter.ColumnContract{
					{Name: "id", Type: "INTEGER"}, {Name: "name", Type: "TEXT"}, {Name: "country", Type: "TEXT"},
				}},
			},
		},
	}
	return fake
}

func TestRefreshRegistersAndIndexes(t *testing.T) {
	fake := mfgFake()
	indexer, ix, store := newIndexer(t, fake)

	res := indexer.Refresh(t.Context(), "manufacturing")
	require.NoError(t, res.Err)
	assert.NotEmpty(t, res.SchemaVersion)
	// datasource + table + 3 columns + example
	assert.Equal(t, 6, res.Chunks)

	latest, err := store.GetLatestVersion(t.Context(), "manufacturing")
	require.NoError(t, err)
	assert.Equal(t, res.SchemaVersion, latest)

	hits, err := ix.RetrieveSchemaContext(t.Context(), "factories", "manufacturing", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestRefreshIdempotentAcrossRuns(t *testing.T) {
	fake := mfgFake()
	indexer, _, store := newIndexer(t, fake)

	first := indexer.Refresh(t.Context(), "manufacturing")
	second := indexer.Refresh(t.Context(), "manufacturing")
	require.NoError(t, first.Err)
	require.NoError(t, second.Err)
	assert.Equal(t, first.SchemaVersion, second.SchemaVersion)

	versions, err := store.ListVersions(t.Context(), "manufacturing")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestRefreshWithoutIntrospectionCapability(t *testing.T) {
	fake := mfgFake()
	fake.Caps = types.NewCapabilitySet(types.CapSQL)
	indexer, _, _ := newIndexer(t, fake)

	res := indexer.Refresh(t.Context(), "manufacturing")
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "introspection")
}

func TestRefreshEvictionSweepsChunks(t *testing.T) {
	fake := mfgFake()
	indexer, ix, _ := newIndexer(t, fake)

	v1 := indexer.Refresh(t.Context(), "manufacturing")
	require.NoError(t, v1.Err)

	// Change the contract twice; retention is 2, so v1 gets evicted.
	fake.Snapshot.Contract.Tables["main.factories"] = adapter.TableContract{
		Columns: []adapter.ColumnContract{{Name: "id"}, {Name: "name"}},
	}
	v2 := indexer.Refresh(t.Context(), "manufacturing")
	require.NoError(t, v2.Err)

	fake.Snapshot.Contract.Tables["main.factories"] = adapter.TableContract{
		Columns: []adapter.ColumnContract{{Name: "id"}},
	}
	v3 := indexer.Refresh(t.Context(), "manufacturing")
	require.NoError(t, v3.Err)
	assert.Equal(t, []string{v1.SchemaVersion}, v3.Evicted)

	hits, err := ix.RetrieveSchemaContext(t.Context(), "factories", "manufacturing", 10)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, v1.SchemaVersion, h.Chunk.SchemaVersion)
	}
}
