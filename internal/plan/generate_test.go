package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simplePlan() Model {
	return Model{
		QueryType: QueryRead,
		Tables:    []TableRef{{Name: "factories", Alias: "f", Ordinal: 0}},
		SelectItems: []SelectItem{
			{Expr: Col("f", "id"), Ordinal: 0},
			{Expr: Col("f", "name"), Ordinal: 1},
			{Expr: Col("f", "country"), Ordinal: 2},
		},
		Where: ptr(Binary("=", Col("f", "country"), Lit("US"))),
	}
}

func ptr(e Expr) *Expr { return &e }

func TestGenerateSimpleSelect(t *testing.T) {
	g := NewGenerator("sqlite")
	sql, err := g.Generate(simplePlan(), 1000)
	require.NoError(t, err)
	assert.Equal(t, "SELECT f.id, f.name, f.country FROM factories f WHERE f.country = 'US' LIMIT 1000", sql)
}

func TestGenerateDeepPrecedence(t *testing.T) {
	// (col1 > 10 OR col2 < 5) AND col3 = 'test'
	where := Binary("AND",
		Binary("OR",
			Binary(">", Col("t1", "col1"), Lit(10)),
			Binary("<", Col("t1", "col2"), Lit(5)),
		),
		Binary("=", Col("t1", "col3"), Lit("test")),
	)
	m := Model{
		QueryType: QueryRead,
		Tables:    []TableRef{{Name: "users", Alias: "t1", Ordinal: 0}},
		SelectItems: []SelectItem{
			{Expr: Col("t1", "id"), Ordinal: 0},
		},
		Where: &where,
	}
	sql, err := NewGenerator("postgres").Generate(m, 100)
	require.NoError(t, err)
	assert.Contains(t, sql, "(t1.col1 > 10 OR t1.col2 < 5) AND t1.col3 = 'test'")
}

func TestGenerateOrdinalOrdering(t *testing.T) {
	// Input lists are shuffled; ordinals must win.
	m := Model{
		QueryType: QueryRead,
		Tables: []TableRef{
			{Name: "orders", Alias: "o", Ordinal: 1},
			{Name: "users", Alias: "u", Ordinal: 0},
		},
		Joins: []JoinSpec{{
			LeftAlias: "u", RightAlias: "o", JoinType: "inner", Ordinal: 0,
			Condition: Binary("=", Col("u", "id"), Col("o", "user_id")),
		}},
		SelectItems: []SelectItem{
			{Expr: Col("u", "id"), Alias: "id_second", Ordinal: 1},
			{Expr: Col("o", "date"), Alias: "date_first", Ordinal: 0},
		},
	}
	sql, err := NewGenerator("postgres").Generate(m, 50)
	require.NoError(t, err)

	assert.Contains(t, sql, "FROM users u")
	assert.Contains(t, sql, "INNER JOIN orders o ON u.id = o.user_id")
	assert.Less(t, strings.Index(sql, "date_first"), strings.Index(sql, "id_second"),
		"select items must follow ordinals, got: %s", sql)
}

func TestGenerateGroupHavingOrder(t *testing.T) {
	m := Model{
		QueryType: QueryRead,
		Tables:    []TableRef{{Name: "orders", Alias: "o", Ordinal: 0}},
		SelectItems: []SelectItem{
			{Expr: Col("o", "user_id"), Ordinal: 0},
			{Expr: Func("count", Col("o", "id")), Alias: "cnt", Ordinal: 1},
		},
		GroupBy: []Expr{Col("o", "user_id")},
		Having:  []Expr{Binary(">", Func("count", Col("o", "id")), Lit(5))},
		OrderBy: []OrderItem{{Expr: Col("o", "user_id"), Descending: true}},
		Limit:   10,
	}
	sql, err := NewGenerator("sqlite").Generate(m, 1000)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT o.user_id, COUNT(o.id) AS cnt FROM orders o GROUP BY o.user_id "+
			"HAVING COUNT(o.id) > 5 ORDER BY o.user_id DESC LIMIT 10", sql)

	// Clause order: WHERE < GROUP BY < HAVING < ORDER BY < LIMIT.
	gi, hi, oi, li := strings.Index(sql, "GROUP BY"), strings.Index(sql, "HAVING"),
		strings.Index(sql, "ORDER BY"), strings.Index(sql, "LIMIT")
	assert.True(t, gi < hi && hi < oi && oi < li)
}

func TestLimitClamping(t *testing.T) {
	g := NewGenerator("sqlite")

	// No explicit limit: clamp to row limit.
	m := simplePlan()
	sql, err := g.Generate(m, 100)
	require.NoError(t, err)
	assert.Contains(t, sql, "LIMIT 100")

	// Explicit larger limit: clamped down.
	m.Limit = 5000
	sql, err = g.Generate(m, 100)
	require.NoError(t, err)
	assert.Contains(t, sql, "LIMIT 100")
	assert.NotContains(t, sql, "5000")

	// Explicit smaller limit: preserved.
	m.Limit = 7
	sql, err = g.Generate(m, 100)
	require.NoError(t, err)
	assert.Contains(t, sql, "LIMIT 7")
}

func TestDialectQuoting(t *testing.T) {
	m := Model{
		QueryType: QueryRead,
		Tables:    []TableRef{{Name: "weird table", Alias: "t", Ordinal: 0}},
		SelectItems: []SelectItem{
			{Expr: Col("t", "select"), Ordinal: 0}, // keyword-free plain ident stays bare
			{Expr: Col("t", "two words"), Ordinal: 1},
		},
	}
	pg, err := NewGenerator("postgres").Generate(m, 10)
	require.NoError(t, err)
	assert.Contains(t, pg, `"weird table"`)
	assert.Contains(t, pg, `t."two words"`)

	my, err := NewGenerator("mysql").Generate(m, 10)
	require.NoError(t, err)
	assert.Contains(t, my, "`weird table`")

	ms, err := NewGenerator("mssql").Generate(m, 10)
	require.NoError(t, err)
	assert.Contains(t, ms, "[weird table]")
	assert.Contains(t, ms, "FETCH NEXT 10 ROWS ONLY")
}

func TestValidateStructureOrdinalPermutations(t *testing.T) {
	m := simplePlan()
	m.SelectItems[2].Ordinal = 5
	err := m.ValidateStructure()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	m = simplePlan()
	m.SelectItems[1].Ordinal = 0
	err = m.ValidateStructure()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicated")
}

func TestValidateStructureJoinAlias(t *testing.T) {
	m := simplePlan()
	m.Joins = []JoinSpec{{
		LeftAlias: "f", RightAlias: "ghost", JoinType: "inner", Ordinal: 0,
		Condition: Binary("=", Col("f", "id"), Col("ghost", "fid")),
	}}
	err := m.ValidateStructure()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestCaseExpression(t *testing.T) {
	caseExpr := Expr{
		Kind: KindCase,
		Whens: []CaseWhen{{
			Cond: Binary("=", Col("f", "country"), Lit("US")),
			Then: Lit("domestic"),
		}},
		Else: ptr(Lit("foreign")),
	}
	m := Model{
		QueryType:   QueryRead,
		Tables:      []TableRef{{Name: "factories", Alias: "f", Ordinal: 0}},
		SelectItems: []SelectItem{{Expr: caseExpr, Alias: "origin", Ordinal: 0}},
	}
	sql, err := NewGenerator("sqlite").Generate(m, 10)
	require.NoError(t, err)
	assert.Contains(t, sql, "CASE WHEN f.country = 'US' THEN 'domestic' ELSE 'foreign' END AS origin")
}
