package plan

import (
	"fmt"
	"strings"
)

// Generator serializes a validated plan into one dialect's SQL. Output is
// byte-deterministic: clause order is fixed, element order follows ordinals,
// and parenthesization follows a fixed precedence table.
type Generator struct {
	dialect string
}

// NewGenerator builds a generator for a dialect tag (postgres, mysql, mssql,
// sqlite; unknown tags render like sqlite).
func NewGenerator(dialect string) *Generator {
	return &Generator{dialect: strings.ToLower(dialect)}
}

// precedence for parenthesization decisions. Higher binds tighter.
var precedence = map[string]int{
	"OR":  1,
	"AND": 2,
	"=":   3, "!=": 3, "<>": 3, "<": 3, "<=": 3, ">": 3, ">=": 3,
	"LIKE": 3, "IN": 3, "IS": 3,
	"+": 4, "-": 4,
	"*": 5, "/": 5, "%": 5,
}

func opPrecedence(op string) int {
	if p, ok := precedence[strings.ToUpper(op)]; ok {
		return p
	}
	return 6
}

// Generate renders the plan. rowLimit is the adapter's ceiling: the emitted
// LIMIT is always present and never exceeds it, while a smaller explicit
// plan limit is preserved.
func (g *Generator) Generate(m Model, rowLimit int) (string, error) {
	if err := m.ValidateStructure(); err != nil {
		return "", err
	}

	var b strings.Builder

	b.WriteString("SELECT ")
	items := m.OrderedSelectItems()
	for i, item := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(g.expr(item.Expr, 0))
		if item.Alias != "" {
			b.WriteString(" AS ")
			b.WriteString(g.ident(item.Alias))
		}
	}

	tables := m.OrderedTables()
	b.WriteString(" FROM ")
	b.WriteString(g.ident(tables[0].Name))
	b.WriteString(" ")
	b.WriteString(g.ident(tables[0].Alias))

	for _, j := range m.OrderedJoins() {
		right, err := m.tableByAlias(j.RightAlias)
		if err != nil {
			return "", err
		}
		b.WriteString(" ")
		b.WriteString(joinKeyword(j.JoinType))
		b.WriteString(" ")
		b.WriteString(g.ident(right.Name))
		b.WriteString(" ")
		b.WriteString(g.ident(right.Alias))
		b.WriteString(" ON ")
		b.WriteString(g.expr(j.Condition, 0))
	}

	if m.Where != nil {
		b.WriteString(" WHERE ")
		b.WriteString(g.expr(*m.Where, 0))
	}

	if len(m.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		for i, e := range m.GroupBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(g.expr(e, 0))
		}
	}

	if len(m.Having) > 0 {
		b.WriteString(" HAVING ")
		for i, e := range m.Having {
			if i > 0 {
				b.WriteString(" AND ")
			}
			b.WriteString(g.expr(e, 0))
		}
	}

	if len(m.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range m.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(g.expr(o.Expr, 0))
			if o.Descending {
				b.WriteString(" DESC")
			} else {
				b.WriteString(" ASC")
			}
		}
	}

	limit := m.Limit
	if rowLimit > 0 && (limit == 0 || limit > rowLimit) {
		limit = rowLimit
	}
	if limit > 0 {
		if g.dialect == "mssql" {
			// TOP would have to be injected into SELECT; OFFSET/FETCH keeps
			// the clause order uniform across dialects.
			b.WriteString(fmt.Sprintf(" OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", limit))
		} else {
			b.WriteString(fmt.Sprintf(" LIMIT %d", limit))
		}
	}

	return b.String(), nil
}

func (m Model) tableByAlias(alias string) (TableRef, error) {
	for _, t := range m.Tables {
		if t.Alias == alias {
			return t, nil
		}
	}
	return TableRef{}, fmt.Errorf("join references unknown alias %q", alias)
}

func joinKeyword(joinType string) string {
	switch strings.ToLower(joinType) {
	case "left":
		return "LEFT JOIN"
	case "right":
		return "RIGHT JOIN"
	case "full":
		return "FULL OUTER JOIN"
	default:
		return "INNER JOIN"
	}
}

// ident quotes an identifier only when it is not a plain identifier, keeping
// generated SQL readable and stable.
func (g *Generator) ident(name string) string {
	plain := true
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		case r == '.': // schema-qualified name
		default:
			plain = false
		}
	}
	if plain && name != "" {
		return name
	}
	switch g.dialect {
	case "mysql":
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case "mssql":
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

func (g *Generator) expr(e Expr, parentPrec int) string {
	switch e.Kind {
	case KindColumn:
		if e.Alias != "" {
			return g.ident(e.Alias) + "." + g.ident(e.Name)
		}
		return g.ident(e.Name)

	case KindLiteral:
		return g.literal(e)

	case KindFunc:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = g.expr(a, 0)
		}
		return strings.ToUpper(e.FuncName) + "(" + strings.Join(args, ", ") + ")"

	case KindBinary:
		prec := opPrecedence(e.Op)
		left := g.expr(*e.Left, prec)
		right := g.expr(*e.Right, prec)
		rendered := left + " " + strings.ToUpper(e.Op) + " " + right
		if prec < parentPrec {
			return "(" + rendered + ")"
		}
		return rendered

	case KindUnary:
		operand := g.expr(*e.Expr, opPrecedence(e.Op))
		op := strings.ToUpper(e.Op)
		if op == "NOT" {
			return "NOT (" + g.expr(*e.Expr, 0) + ")"
		}
		return op + operand

	case KindCase:
		var b strings.Builder
		b.WriteString("CASE")
		for _, w := range e.Whens {
			b.WriteString(" WHEN ")
			b.WriteString(g.expr(w.Cond, 0))
			b.WriteString(" THEN ")
			b.WriteString(g.expr(w.Then, 0))
		}
		if e.Else != nil {
			b.WriteString(" ELSE ")
			b.WriteString(g.expr(*e.Else, 0))
		}
		b.WriteString(" END")
		return b.String()

	default:
		return "NULL"
	}
}

func (g *Generator) literal(e Expr) string {
	if e.IsNull || e.Value == nil {
		return "NULL"
	}
	switch v := e.Value.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case bool:
		if g.dialect == "mssql" {
			if v {
				return "1"
			}
			return "0"
		}
		if v {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		// JSON numbers decode as float64; render integral values without
		// a trailing fraction so 10.0 stays 10.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
