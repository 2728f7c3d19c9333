package sqliteadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dlsqlite "datalens/internal/sqlite"
	"datalens/internal/types"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	path := t.TempDir() + "/manufacturing.db"

	db, err := dlsqlite.Open(path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE factories (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			country TEXT
		);
		CREATE TABLE machines (
			id INTEGER PRIMARY KEY,
			factory_id INTEGER REFERENCES factories(id)
		);
		INSERT INTO factories VALUES (1, 'Detroit Plant', 'US'), (2, 'Austin Plant', 'US'), (3, 'Munich Plant', 'DE');
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	a := New("manufacturing", path)
	require.NoError(t, a.Connect(t.Context()))
	return a
}

func TestFetchSchemaSnapshot(t *testing.T) {
	a := newTestAdapter(t)

	snap, err := a.FetchSchemaSnapshot(t.Context())
	require.NoError(t, err)
	require.NoError(t, snap.Contract.Validate())

	assert.Equal(t, []string{"main.factories", "main.machines"}, snap.Contract.TableOrder)
	factories := snap.Contract.Tables["main.factories"]
	require.Len(t, factories.Columns, 3)
	assert.True(t, factories.Columns[0].PrimaryKey)
	assert.False(t, factories.Columns[1].Nullable)

	machines := snap.Contract.Tables["main.machines"]
	require.Len(t, machines.ForeignKeys, 1)
	assert.Equal(t, "main.factories", machines.ForeignKeys[0].ReferencedTable)

	assert.EqualValues(t, 3, snap.Metadata.Tables["main.factories"].RowCount)
}

func TestExecuteSelect(t *testing.T) {
	a := newTestAdapter(t)

	frame := a.Execute(t.Context(), types.AdapterRequest{
		PlanType: types.PlanSQL,
		Payload:  map[string]any{"sql": "SELECT id, name FROM factories WHERE country = 'US' ORDER BY id"},
		Limits:   types.Limits{RowLimit: 100},
	})
	require.True(t, frame.Success, "error: %+v", frame.Error)
	assert.Equal(t, []string{"id", "name"}, frame.ColumnNames())
	require.Equal(t, 2, frame.RowCount)
	assert.Equal(t, "Detroit Plant", frame.Rows[0][1])
	assert.False(t, frame.Truncated)
	assert.Contains(t, frame.ExecutionStats, "execution_time_ms")
}

func TestExecuteRowLimitTruncates(t *testing.T) {
	a := newTestAdapter(t)

	frame := a.Execute(t.Context(), types.AdapterRequest{
		PlanType: types.PlanSQL,
		Payload:  map[string]any{"sql": "SELECT id FROM factories"},
		Limits:   types.Limits{RowLimit: 2},
	})
	require.True(t, frame.Success)
	assert.Equal(t, 2, frame.RowCount)
	assert.True(t, frame.Truncated)
}

func TestExecuteNeverRaises(t *testing.T) {
	a := newTestAdapter(t)

	// Bad SQL → structured failure.
	frame := a.Execute(t.Context(), types.AdapterRequest{
		PlanType: types.PlanSQL,
		Payload:  map[string]any{"sql": "SELECT nope FROM missing_table"},
	})
	assert.False(t, frame.Success)
	require.NotNil(t, frame.Error)
	assert.Equal(t, types.ErrExecutionFailed, frame.Error.Code)

	// Wrong plan type → capability violation.
	frame = a.Execute(t.Context(), types.AdapterRequest{PlanType: types.PlanREST})
	require.NotNil(t, frame.Error)
	assert.Equal(t, types.ErrCapabilityViolation, frame.Error.Code)

	// Missing payload → MISSING_SQL.
	frame = a.Execute(t.Context(), types.AdapterRequest{PlanType: types.PlanSQL, Payload: map[string]any{}})
	require.NotNil(t, frame.Error)
	assert.Equal(t, types.ErrMissingSQL, frame.Error.Code)
}

func TestDryRunMode(t *testing.T) {
	a := newTestAdapter(t)

	frame := a.Execute(t.Context(), types.AdapterRequest{
		PlanType: types.PlanSQL,
		Payload:  map[string]any{"sql": "SELECT id FROM factories", "mode": "dry_run"},
	})
	assert.True(t, frame.Success)
	assert.Zero(t, frame.RowCount)

	frame = a.Execute(t.Context(), types.AdapterRequest{
		PlanType: types.PlanSQL,
		Payload:  map[string]any{"sql": "SELECT broken syntax here", "mode": "dry_run"},
	})
	assert.False(t, frame.Success)
}
