package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens/internal/types"
)

func rel(cols []string, rows ...[]any) Relation {
	r := Relation{Columns: cols}
	for _, row := range rows {
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			m[c] = row[i]
		}
		r.Rows = append(r.Rows, m)
	}
	return r
}

func col(name string) *types.ScalarExpr {
	return &types.ScalarExpr{Kind: "col", Name: name}
}

func lit(v any) *types.ScalarExpr {
	return &types.ScalarExpr{Kind: "lit", Value: v}
}

func TestUnionPositional(t *testing.T) {
	a := rel([]string{"name", "country"}, []any{"Detroit", "US"})
	b := rel([]string{"supplier", "country"}, []any{"Bosch", "DE"})

	out, err := Apply(types.DAGNode{NodeID: "u", Kind: types.NodeCombine, Op: types.OpUnion,
		Inputs: []types.InputRef{{Source: types.SourceScan, ID: "a"}, {Source: types.SourceScan, ID: "b"}}},
		[]Relation{a, b})
	require.NoError(t, err)
	require.Len(t, out.Rows, 2)
	assert.Equal(t, "Detroit", out.Rows[0]["name"])
	assert.Equal(t, "Bosch", out.Rows[1]["name"]) // positional mapping

	// Mismatched arity is an error.
	c := rel([]string{"only"}, []any{1})
	_, err = Apply(types.DAGNode{NodeID: "u2", Op: types.OpUnion}, []Relation{a, c})
	assert.Error(t, err)
}

func TestInnerAndLeftJoin(t *testing.T) {
	factories := rel([]string{"id", "name"}, []any{int64(1), "Detroit"}, []any{int64(2), "Austin"})
	machines := rel([]string{"factory_id", "machine"}, []any{int64(1), "press"}, []any{int64(1), "lathe"})

	node := types.DAGNode{
		NodeID: "j", Op: types.OpJoin, JoinType: "inner",
		JoinOn: []types.JoinOn{{LeftColumn: "id", RightColumn: "factory_id"}},
	}
	out, err := Apply(node, []Relation{factories, machines})
	require.NoError(t, err)
	assert.Len(t, out.Rows, 2)
	assert.Equal(t, "Detroit", out.Rows[0]["name"])

	node.JoinType = "left"
	out, err = Apply(node, []Relation{factories, machines})
	require.NoError(t, err)
	assert.Len(t, out.Rows, 3)
	// Austin survives with no machine.
	last := out.Rows[2]
	assert.Equal(t, "Austin", last["name"])
	assert.Nil(t, last["machine"])
}

func TestFilter(t *testing.T) {
	in := rel([]string{"name", "country"},
		[]any{"Detroit", "US"}, []any{"Munich", "DE"}, []any{"Austin", "US"})

	node := types.DAGNode{
		NodeID: "f", Kind: types.NodePostFilter,
		Predicate: &types.ScalarExpr{Kind: "binary", Op: "=", Left: col("country"), Right: lit("US")},
	}
	out, err := Apply(node, []Relation{in})
	require.NoError(t, err)
	assert.Len(t, out.Rows, 2)
}

func TestProject(t *testing.T) {
	in := rel([]string{"name", "units"}, []any{"Detroit", int64(40)})
	node := types.DAGNode{
		NodeID: "p", Kind: types.NodeProject,
		Projections: []types.ProjectItem{
			{Expr: *col("name"), Alias: "factory"},
			{Expr: types.ScalarExpr{Kind: "binary", Op: "*", Left: col("units"), Right: lit(2)}, Alias: "doubled"},
		},
	}
	out, err := Apply(node, []Relation{in})
	require.NoError(t, err)
	assert.Equal(t, []string{"factory", "doubled"}, out.Columns)
	assert.Equal(t, "Detroit", out.Rows[0]["factory"])
	assert.EqualValues(t, 80, out.Rows[0]["doubled"])
}

func TestGroupAgg(t *testing.T) {
	in := rel([]string{"country", "units"},
		[]any{"US", int64(10)}, []any{"DE", int64(5)}, []any{"US", int64(30)})

	node := types.DAGNode{
		NodeID: "g", Kind: types.NodeGroupAgg,
		GroupKeys: []string{"country"},
		Aggregates: []types.AggSpec{
			{Func: "sum", Column: "units", Alias: "total_units"},
			{Func: "count", Alias: "n"},
			{Func: "avg", Column: "units", Alias: "avg_units"},
		},
	}
	out, err := Apply(node, []Relation{in})
	require.NoError(t, err)
	require.Len(t, out.Rows, 2)

	// First-appearance group order: US then DE.
	assert.Equal(t, "US", out.Rows[0]["country"])
	assert.EqualValues(t, 40, out.Rows[0]["total_units"])
	assert.EqualValues(t, 2, out.Rows[0]["n"])
	assert.EqualValues(t, 20, out.Rows[0]["avg_units"])
	assert.Equal(t, "DE", out.Rows[1]["country"])
}

func TestGroupAggKeylessOnEmptyInput(t *testing.T) {
	node := types.DAGNode{
		NodeID: "g", Kind: types.NodeGroupAgg,
		Aggregates: []types.AggSpec{{Func: "count", Alias: "n"}},
	}
	out, err := Apply(node, []Relation{rel([]string{"x"})})
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.EqualValues(t, 0, out.Rows[0]["n"])
}

func TestOrderLimit(t *testing.T) {
	in := rel([]string{"name", "units"},
		[]any{"A", int64(10)}, []any{"B", int64(30)}, []any{"C", int64(20)})

	node := types.DAGNode{
		NodeID: "o", Kind: types.NodeOrderLimit,
		OrderBy: []types.OrderKey{{Column: "units", Descending: true}},
		Limit:   2,
	}
	out, err := Apply(node, []Relation{in})
	require.NoError(t, err)
	require.Len(t, out.Rows, 2)
	assert.Equal(t, "B", out.Rows[0]["name"])
	assert.Equal(t, "C", out.Rows[1]["name"])
}

func TestDeterminism(t *testing.T) {
	in := rel([]string{"k", "v"},
		[]any{"a", int64(1)}, []any{"b", int64(2)}, []any{"a", int64(3)})
	node := types.DAGNode{
		NodeID: "g", Kind: types.NodeGroupAgg,
		GroupKeys:  []string{"k"},
		Aggregates: []types.AggSpec{{Func: "sum", Column: "v", Alias: "s"}},
	}
	first, err := Apply(node, []Relation{in})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Apply(node, []Relation{in})
		require.NoError(t, err)
		assert.Equal(t, first.Rows, again.Rows)
	}
}

func TestToFrameUsesDeclaredSchemaOrder(t *testing.T) {
	r := rel([]string{"b", "a"}, []any{int64(2), int64(1)})
	frame := r.ToFrame(types.OutputSchema{Columns: []types.OutputColumn{{Name: "a"}, {Name: "b"}}})
	assert.Equal(t, []string{"a", "b"}, frame.ColumnNames())
	assert.EqualValues(t, 1, frame.Rows[0][0])
	assert.EqualValues(t, 2, frame.Rows[0][1])
}
