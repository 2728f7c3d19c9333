package plan

import (
	"fmt"
	"sort"
)

// QueryType is the plan's declared statement class. Only READ is legal; the
// logical validator turns anything else into a security violation.
type QueryType string

// QueryRead is the only accepted query type.
const QueryRead QueryType = "READ"

// SelectItem is one output expression with its position.
type SelectItem struct {
	Expr    Expr   `json:"expr"`
	Alias   string `json:"alias,omitempty"`
	Ordinal int    `json:"ordinal"`
}

// TableRef names a table with its alias and position.
type TableRef struct {
	Name    string `json:"name"`
	Alias   string `json:"alias"`
	Ordinal int    `json:"ordinal"`
}

// JoinSpec joins two declared aliases.
type JoinSpec struct {
	LeftAlias  string `json:"left_alias"`
	RightAlias string `json:"right_alias"`
	JoinType   string `json:"join_type"` // inner | left | right | full
	Condition  Expr   `json:"condition"`
	Ordinal    int    `json:"ordinal"`
}

// OrderItem is one ORDER BY key.
type OrderItem struct {
	Expr       Expr `json:"expr"`
	Descending bool `json:"descending,omitempty"`
}

// Model is the typed query plan for one sub-query.
type Model struct {
	QueryType   QueryType    `json:"query_type"`
	Tables      []TableRef   `json:"tables"`
	SelectItems []SelectItem `json:"select_items"`
	Joins       []JoinSpec   `json:"joins,omitempty"`
	Where       *Expr        `json:"where,omitempty"`
	GroupBy     []Expr       `json:"group_by,omitempty"`
	Having      []Expr       `json:"having,omitempty"`
	OrderBy     []OrderItem  `json:"order_by,omitempty"`
	Limit       int          `json:"limit,omitempty"`
}

// checkOrdinals verifies a list of ordinals is a permutation of 0..n-1.
func checkOrdinals(what string, ordinals []int) error {
	seen := make([]bool, len(ordinals))
	for _, o := range ordinals {
		if o < 0 || o >= len(ordinals) {
			return fmt.Errorf("%s ordinal %d out of range [0,%d)", what, o, len(ordinals))
		}
		if seen[o] {
			return fmt.Errorf("%s ordinal %d duplicated", what, o)
		}
		seen[o] = true
	}
	return nil
}

// ValidateStructure checks the plan's self-contained invariants: tables are
// present with unique aliases, ordinal lists are permutations, join aliases
// reference declared tables, expressions are well-formed. RBAC and schema
// checks live in the logical validator, which has the retrieved schema.
func (m Model) ValidateStructure() error {
	if len(m.Tables) == 0 {
		return fmt.Errorf("plan declares no tables")
	}
	if len(m.SelectItems) == 0 {
		return fmt.Errorf("plan declares no select items")
	}

	aliases := make(map[string]bool, len(m.Tables))
	tableOrds := make([]int, len(m.Tables))
	for i, t := range m.Tables {
		if t.Alias == "" {
			return fmt.Errorf("table %q missing alias", t.Name)
		}
		if aliases[t.Alias] {
			return fmt.Errorf("duplicate table alias %q", t.Alias)
		}
		aliases[t.Alias] = true
		tableOrds[i] = t.Ordinal
	}
	if err := checkOrdinals("table", tableOrds); err != nil {
		return err
	}

	selectOrds := make([]int, len(m.SelectItems))
	for i, item := range m.SelectItems {
		selectOrds[i] = item.Ordinal
		if err := item.Expr.Validate(); err != nil {
			return fmt.Errorf("select item %d: %w", i, err)
		}
	}
	if err := checkOrdinals("select item", selectOrds); err != nil {
		return err
	}

	joinOrds := make([]int, len(m.Joins))
	for i, j := range m.Joins {
		joinOrds[i] = j.Ordinal
		if !aliases[j.LeftAlias] {
			return fmt.Errorf("join %d: left alias %q not declared in tables", i, j.LeftAlias)
		}
		if !aliases[j.RightAlias] {
			return fmt.Errorf("join %d: right alias %q not declared in tables", i, j.RightAlias)
		}
		if err := j.Condition.Validate(); err != nil {
			return fmt.Errorf("join %d condition: %w", i, err)
		}
	}
	if err := checkOrdinals("join", joinOrds); err != nil {
		return err
	}

	if m.Where != nil {
		if err := m.Where.Validate(); err != nil {
			return fmt.Errorf("where: %w", err)
		}
	}
	for i, g := range m.GroupBy {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("group by %d: %w", i, err)
		}
	}
	for i, h := range m.Having {
		if err := h.Validate(); err != nil {
			return fmt.Errorf("having %d: %w", i, err)
		}
	}
	for i, o := range m.OrderBy {
		if err := o.Expr.Validate(); err != nil {
			return fmt.Errorf("order by %d: %w", i, err)
		}
	}
	if m.Limit < 0 {
		return fmt.Errorf("negative limit %d", m.Limit)
	}
	return nil
}

// OrderedTables returns tables sorted by ordinal.
func (m Model) OrderedTables() []TableRef {
	out := make([]TableRef, len(m.Tables))
	copy(out, m.Tables)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// OrderedSelectItems returns select items sorted by ordinal.
func (m Model) OrderedSelectItems() []SelectItem {
	out := make([]SelectItem, len(m.SelectItems))
	copy(out, m.SelectItems)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// OrderedJoins returns joins sorted by ordinal.
func (m Model) OrderedJoins() []JoinSpec {
	out := make([]JoinSpec, len(m.Joins))
	copy(out, m.Joins)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// ColumnRefs returns every column reference in the plan, including those
// nested in joins, predicates and projections.
func (m Model) ColumnRefs() []Expr {
	var refs []Expr
	collect := func(e Expr) {
		if e.Kind == KindColumn {
			refs = append(refs, e)
		}
	}
	for _, item := range m.SelectItems {
		item.Expr.Walk(collect)
	}
	for _, j := range m.Joins {
		j.Condition.Walk(collect)
	}
	if m.Where != nil {
		m.Where.Walk(collect)
	}
	for _, g := range m.GroupBy {
		g.Walk(collect)
	}
	for _, h := range m.Having {
		h.Walk(collect)
	}
	for _, o := range m.OrderBy {
		o.Expr.Walk(collect)
	}
	return refs
}
