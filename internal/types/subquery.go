package types

// UserContext carries the caller's identity for the duration of one request.
// Immutable once built.
type UserContext struct {
	UserID   string   `json:"user_id,omitempty"`
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// Complexity is the decomposer's classification of a sub-query.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
)

// SubQuery is the unit scheduled on a sub-pipeline: one relation-producing
// question against one datasource.
type SubQuery struct {
	ID              string     `json:"id"`
	DatasourceID    string     `json:"datasource_id"`
	Intent          string     `json:"intent"`
	Complexity      Complexity `json:"complexity,omitempty"`
	Metrics         []string   `json:"metrics,omitempty"`
	Filters         []string   `json:"filters,omitempty"`
	GroupBy         []string   `json:"group_by,omitempty"`
	ExpectedColumns []string   `json:"expected_columns,omitempty"`
}

// InputSource tags where a combine input comes from.
type InputSource string

const (
	SourceScan InputSource = "scan"
	SourceStep InputSource = "step"
)

// InputRef names one input of a combine or post-combine operation.
type InputRef struct {
	Source InputSource `json:"source"`
	ID     string      `json:"id"`
}

// OutputColumn declares one column of an operator's output schema.
type OutputColumn struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// OutputSchema is the mandatory declared shape of every DAG node output.
type OutputSchema struct {
	Columns []OutputColumn `json:"columns"`
}

// Names returns the declared column names in order.
func (s OutputSchema) Names() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}
