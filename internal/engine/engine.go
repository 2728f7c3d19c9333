package engine

import (
	"fmt"
	"sort"
	"strings"

	"datalens/internal/types"
)

// Relation is the engine's working form of a frame: ordered columns plus
// name-keyed rows.
type Relation struct {
	Columns []string
	Rows    []map[string]any
}

// FromFrame converts a result frame.
func FromFrame(frame types.ResultFrame) Relation {
	return Relation{Columns: frame.ColumnNames(), Rows: frame.RowMaps()}
}

// ToFrame converts back to the positional frame form with the declared
// output schema, which is authoritative for column order.
func (r Relation) ToFrame(schema types.OutputSchema) types.ResultFrame {
	cols := schema.Names()
	if len(cols) == 0 {
		cols = r.Columns
	}
	frame := types.ResultFrame{Success: true}
	for _, c := range cols {
		frame.Columns = append(frame.Columns, types.ColumnMeta{Name: c, Type: "any"})
	}
	for _, m := range r.Rows {
		row := make([]any, len(cols))
		for i, c := range cols {
			row[i] = m[c]
		}
		frame.Rows = append(frame.Rows, row)
	}
	frame.RowCount = len(frame.Rows)
	return frame
}

// Apply evaluates one non-scan DAG node over its named inputs, in declared
// input order.
func Apply(node types.DAGNode, inputs []Relation) (Relation, error) {
	op := node.Op
	if op == "" {
		// Post-combine node kinds imply their operator.
		switch node.Kind {
		case types.NodePostFilter:
			op = types.OpFilter
		case types.NodeProject:
			op = types.OpProject
		case types.NodeGroupAgg:
			op = types.OpGroupAgg
		case types.NodeOrderLimit:
			op = types.OpOrderLimit
		default:
			return Relation{}, fmt.Errorf("node %s: no operator declared", node.NodeID)
		}
	}

	switch op {
	case types.OpUnion:
		return applyUnion(inputs)
	case types.OpJoin:
		if len(inputs) != 2 {
			return Relation{}, fmt.Errorf("node %s: join requires exactly 2 inputs, got %d", node.NodeID, len(inputs))
		}
		return applyJoin(node, inputs[0], inputs[1])
	case types.OpFilter:
		return applySingleInput(node, inputs, applyFilter)
	case types.OpProject:
		return applySingleInput(node, inputs, applyProject)
	case types.OpGroupAgg:
		return applySingleInput(node, inputs, applyGroupAgg)
	case types.OpOrderLimit:
		return applySingleInput(node, inputs, applyOrderLimit)
	default:
		return Relation{}, fmt.Errorf("node %s: unknown operator %q", node.NodeID, op)
	}
}

func applySingleInput(node types.DAGNode, inputs []Relation, fn func(types.DAGNode, Relation) (Relation, error)) (Relation, error) {
	if len(inputs) != 1 {
		return Relation{}, fmt.Errorf("node %s: operator %s requires exactly 1 input, got %d", node.NodeID, node.Op, len(inputs))
	}
	return fn(node, inputs[0])
}

func applyUnion(inputs []Relation) (Relation, error) {
	if len(inputs) == 0 {
		return Relation{}, fmt.Errorf("union requires at least one input")
	}
	base := inputs[0].Columns
	out := Relation{Columns: base}
	for i, in := range inputs {
		if len(in.Columns) != len(base) {
			return Relation{}, fmt.Errorf("union input %d has %d columns, expected %d", i, len(in.Columns), len(base))
		}
		for _, row := range in.Rows {
			merged := make(map[string]any, len(base))
			for ci, col := range base {
				// Positional union: column ci of every input feeds column ci
				// of the output.
				merged[col] = row[in.Columns[ci]]
			}
			out.Rows = append(out.Rows, merged)
		}
	}
	return out, nil
}

func applyJoin(node types.DAGNode, left, right Relation) (Relation, error) {
	if len(node.JoinOn) == 0 {
		return Relation{}, fmt.Errorf("node %s: join declares no keys", node.NodeID)
	}
	joinType := strings.ToLower(node.JoinType)
	if joinType == "" {
		joinType = "inner"
	}

	// Hash the right side on the join key tuple.
	rightIndex := make(map[string][]map[string]any)
	for _, row := range right.Rows {
		rightIndex[joinKey(row, node.JoinOn, false)] = append(rightIndex[joinKey(row, node.JoinOn, false)], row)
	}

	cols := append([]string{}, left.Columns...)
	for _, c := range right.Columns {
		if !contains(cols, c) {
			cols = append(cols, c)
		}
	}

	out := Relation{Columns: cols}
	for _, lrow := range left.Rows {
		matches := rightIndex[joinKey(lrow, node.JoinOn, true)]
		if len(matches) == 0 {
			if joinType == "left" {
				out.Rows = append(out.Rows, cloneRow(lrow))
			}
			continue
		}
		for _, rrow := range matches {
			merged := cloneRow(lrow)
			for k, v := range rrow {
				if _, exists := merged[k]; !exists {
					merged[k] = v
				}
			}
			out.Rows = append(out.Rows, merged)
		}
	}
	return out, nil
}

func joinKey(row map[string]any, on []types.JoinOn, leftSide bool) string {
	parts := make([]string, len(on))
	for i, k := range on {
		col := k.RightColumn
		if leftSide {
			col = k.LeftColumn
		}
		parts[i] = fmt.Sprint(row[col])
	}
	return strings.Join(parts, "\x1f")
}

func applyFilter(node types.DAGNode, in Relation) (Relation, error) {
	if node.Predicate == nil {
		return Relation{}, fmt.Errorf("node %s: filter declares no predicate", node.NodeID)
	}
	out := Relation{Columns: in.Columns}
	for _, row := range in.Rows {
		v, err := evalExpr(*node.Predicate, row)
		if err != nil {
			return Relation{}, fmt.Errorf("node %s: %w", node.NodeID, err)
		}
		if truthy(v) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

func applyProject(node types.DAGNode, in Relation) (Relation, error) {
	if len(node.Projections) == 0 {
		return Relation{}, fmt.Errorf("node %s: project declares no projections", node.NodeID)
	}
	out := Relation{}
	for _, p := range node.Projections {
		out.Columns = append(out.Columns, p.Alias)
	}
	for _, row := range in.Rows {
		projected := make(map[string]any, len(node.Projections))
		for _, p := range node.Projections {
			v, err := evalExpr(p.Expr, row)
			if err != nil {
				return Relation{}, fmt.Errorf("node %s: %w", node.NodeID, err)
			}
			projected[p.Alias] = v
		}
		out.Rows = append(out.Rows, projected)
	}
	return out, nil
}

func applyGroupAgg(node types.DAGNode, in Relation) (Relation, error) {
	if len(node.Aggregates) == 0 {
		return Relation{}, fmt.Errorf("node %s: group_agg declares no aggregates", node.NodeID)
	}

	type group struct {
		keyVals map[string]any
		rows    []map[string]any
	}
	groups := make(map[string]*group)
	var order []string // first-appearance order keeps output deterministic

	for _, row := range in.Rows {
		parts := make([]string, len(node.GroupKeys))
		keyVals := make(map[string]any, len(node.GroupKeys))
		for i, k := range node.GroupKeys {
			parts[i] = fmt.Sprint(row[k])
			keyVals[k] = row[k]
		}
		key := strings.Join(parts, "\x1f")
		g, ok := groups[key]
		if !ok {
			g = &group{keyVals: keyVals}
			groups[key] = g
			order = append(order, key)
		}
		g.rows = append(g.rows, row)
	}
	// A keyless aggregate over an empty input still yields one row.
	if len(groups) == 0 && len(node.GroupKeys) == 0 {
		groups[""] = &group{keyVals: map[string]any{}}
		order = append(order, "")
	}

	out := Relation{Columns: append([]string{}, node.GroupKeys...)}
	for _, agg := range node.Aggregates {
		out.Columns = append(out.Columns, agg.Alias)
	}
	for _, key := range order {
		g := groups[key]
		row := make(map[string]any, len(out.Columns))
		for k, v := range g.keyVals {
			row[k] = v
		}
		for _, agg := range node.Aggregates {
			v, err := aggregate(agg, g.rows)
			if err != nil {
				return Relation{}, fmt.Errorf("node %s: %w", node.NodeID, err)
			}
			row[agg.Alias] = v
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func aggregate(spec types.AggSpec, rows []map[string]any) (any, error) {
	fn := strings.ToLower(spec.Func)
	if fn == "count" && spec.Column == "" {
		return int64(len(rows)), nil
	}

	var values []float64
	for _, row := range rows {
		v, ok := row[spec.Column]
		if !ok || v == nil {
			continue
		}
		if fn == "count" {
			values = append(values, 1)
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("aggregate %s over non-numeric column %q", spec.Func, spec.Column)
		}
		values = append(values, f)
	}

	switch fn {
	case "count":
		return int64(len(values)), nil
	case "sum":
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum, nil
	case "avg":
		if len(values) == 0 {
			return nil, nil
		}
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), nil
	case "min":
		if len(values) == 0 {
			return nil, nil
		}
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min, nil
	case "max":
		if len(values) == 0 {
			return nil, nil
		}
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max, nil
	default:
		return nil, fmt.Errorf("unknown aggregate %q", spec.Func)
	}
}

func applyOrderLimit(node types.DAGNode, in Relation) (Relation, error) {
	out := Relation{Columns: in.Columns, Rows: append([]map[string]any{}, in.Rows...)}
	if len(node.OrderBy) > 0 {
		sort.SliceStable(out.Rows, func(i, j int) bool {
			for _, key := range node.OrderBy {
				c := compareValues(out.Rows[i][key.Column], out.Rows[j][key.Column])
				if c == 0 {
					continue
				}
				if key.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if node.Limit > 0 && len(out.Rows) > node.Limit {
		out.Rows = out.Rows[:node.Limit]
	}
	return out, nil
}

func cloneRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
