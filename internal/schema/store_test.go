package schema

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens/internal/adapter"
)

func snapshotWithTable(ds, table string, cols ...string) adapter.SchemaSnapshot {
	contracts := make([]adapter.ColumnContract, len(cols))
	for i, c := range cols {
		contracts[i] = adapter.ColumnContract{Name: c, Type: "TEXT"}
	}
	return adapter.SchemaSnapshot{
		DatasourceID: ds,
		Contract: adapter.SchemaContract{
			TableOrder: []string{table},
			Tables:     map[string]adapter.TableContract{table: {Columns: contracts}},
		},
		Metadata: adapter.SchemaMetadata{
			Tables: map[string]adapter.TableMetadata{table: {Description: "test table", RowCount: 7}},
		},
	}
}

func TestFingerprintStableAndContractOnly(t *testing.T) {
	a := snapshotWithTable("ds", "main.factories", "id", "name", "country")
	b := snapshotWithTable("ds", "main.factories", "id", "name", "country")
	// Different metadata, same contract.
	b.Metadata.Tables["main.factories"] = adapter.TableMetadata{Description: "other", RowCount: 999}

	assert.Equal(t, Fingerprint(a.Contract), Fingerprint(b.Contract))

	c := snapshotWithTable("ds", "main.factories", "id", "name")
	assert.NotEqual(t, Fingerprint(a.Contract), Fingerprint(c.Contract))
}

func TestRegisterSnapshotIdempotent(t *testing.T) {
	store := NewMemoryStore(3)
	snap := snapshotWithTable("manufacturing", "main.factories", "id", "name", "country")

	v1, evicted, err := store.RegisterSnapshot(t.Context(), snap)
	require.NoError(t, err)
	assert.Empty(t, evicted)

	v2, evicted, err := store.RegisterSnapshot(t.Context(), snap)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Empty(t, evicted)

	versions, err := store.ListVersions(t.Context(), "manufacturing")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestRegisterSnapshotEvictsOldest(t *testing.T) {
	store := NewMemoryStore(2)
	var versions []string
	for i := 0; i < 3; i++ {
		snap := snapshotWithTable("ds", "main.t", "id", fmt.Sprintf("col_%d", i))
		v, _, err := store.RegisterSnapshot(t.Context(), snap)
		require.NoError(t, err)
		versions = append(versions, v)
	}

	// The first version must have been evicted by the third registration.
	listed, err := store.ListVersions(t.Context(), "ds")
	require.NoError(t, err)
	assert.Equal(t, []string{versions[1], versions[2]}, listed)

	_, err = store.GetSnapshot(t.Context(), "ds", versions[0])
	assert.Error(t, err)

	latest, err := store.GetLatestVersion(t.Context(), "ds")
	require.NoError(t, err)
	assert.Equal(t, versions[2], latest)
}

func TestEvictionReportedToCaller(t *testing.T) {
	store := NewMemoryStore(1)
	v1, _, err := store.RegisterSnapshot(t.Context(), snapshotWithTable("ds", "main.t", "a"))
	require.NoError(t, err)

	_, evicted, err := store.RegisterSnapshot(t.Context(), snapshotWithTable("ds", "main.t", "b"))
	require.NoError(t, err)
	assert.Equal(t, []string{v1}, evicted)
}

func TestTableLookups(t *testing.T) {
	store := NewMemoryStore(3)
	snap := snapshotWithTable("ds", "main.factories", "id", "name")
	v, _, err := store.RegisterSnapshot(t.Context(), snap)
	require.NoError(t, err)

	tc, err := store.GetTableContract(t.Context(), "ds", v, "main.factories")
	require.NoError(t, err)
	assert.Len(t, tc.Columns, 2)

	tm, err := store.GetTableMetadata(t.Context(), "ds", v, "main.factories")
	require.NoError(t, err)
	assert.EqualValues(t, 7, tm.RowCount)

	_, err = store.GetTableContract(t.Context(), "ds", v, "main.nope")
	assert.Error(t, err)
}

func TestSQLiteStoreMatchesMemoryBehavior(t *testing.T) {
	path := t.TempDir() + "/schema.db"
	store, err := NewSQLiteStore(path, 2)
	require.NoError(t, err)
	defer store.Close()

	snap := snapshotWithTable("ds", "main.t", "id")
	v1, evicted, err := store.RegisterSnapshot(t.Context(), snap)
	require.NoError(t, err)
	assert.Empty(t, evicted)

	// Idempotent re-registration.
	v2, evicted, err := store.RegisterSnapshot(t.Context(), snap)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Empty(t, evicted)

	// Round-trip.
	loaded, err := store.GetSnapshot(t.Context(), "ds", v1)
	require.NoError(t, err)
	assert.Equal(t, snap.Contract.TableOrder, loaded.Contract.TableOrder)
	assert.Equal(t, snap.Metadata.Tables["main.t"].RowCount, loaded.Metadata.Tables["main.t"].RowCount)

	// Eviction at retention 2.
	_, _, err = store.RegisterSnapshot(t.Context(), snapshotWithTable("ds", "main.t", "id", "x"))
	require.NoError(t, err)
	_, evicted, err = store.RegisterSnapshot(t.Context(), snapshotWithTable("ds", "main.t", "id", "y"))
	require.NoError(t, err)
	assert.Equal(t, []string{v1}, evicted)
}
