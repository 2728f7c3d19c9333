package types

// PlanType identifies the kind of payload an adapter request carries.
type PlanType string

const (
	PlanSQL   PlanType = "sql"
	PlanREST  PlanType = "rest"
	PlanNoSQL PlanType = "nosql"
)

// Limits are the safeguard ceilings attached to every adapter request.
// Zero values mean "adapter default".
type Limits struct {
	RowLimit  int   `json:"row_limit,omitempty"`
	TimeoutMS int   `json:"timeout_ms,omitempty"`
	MaxBytes  int64 `json:"max_bytes,omitempty"`
}

// AdapterRequest is the wire-level request handed to an adapter's Execute.
type AdapterRequest struct {
	PlanType   PlanType       `json:"plan_type"`
	Payload    map[string]any `json:"payload"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Limits     Limits         `json:"limits"`
	TraceID    string         `json:"trace_id,omitempty"`
}

// SQL returns the "sql" payload entry, if present and non-empty.
func (r AdapterRequest) SQL() (string, bool) {
	v, ok := r.Payload["sql"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// ColumnMeta describes one column of a result frame.
type ColumnMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// FrameError is the structured error embedded in a failed ResultFrame.
type FrameError struct {
	Code         ErrorCode `json:"error_code"`
	SafeMessage  string    `json:"safe_message"`
	Severity     string    `json:"severity"` // WARNING | ERROR | CRITICAL
	Retryable    bool      `json:"retryable"`
	Stage        string    `json:"stage,omitempty"`
	DatasourceID string    `json:"datasource_id,omitempty"`
	ErrorID      string    `json:"error_id,omitempty"`
}

// ResultFrame is the adapter-agnostic tabular result. Execute never raises;
// failures come back as Success=false with a safe message.
type ResultFrame struct {
	Success        bool           `json:"success"`
	Columns        []ColumnMeta   `json:"columns"`
	Rows           [][]any        `json:"rows"`
	RowCount       int            `json:"row_count"`
	Truncated      bool           `json:"truncated"`
	Bytes          int64          `json:"bytes,omitempty"`
	DatasourceID   string         `json:"datasource_id,omitempty"`
	TenantID       string         `json:"tenant_id,omitempty"`
	ExecutionStats map[string]any `json:"execution_stats,omitempty"`
	Error          *FrameError    `json:"error,omitempty"`
}

// ColumnNames returns the column names in declared order.
func (f ResultFrame) ColumnNames() []string {
	names := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		names[i] = c.Name
	}
	return names
}

// RowMaps converts the positional rows into name-keyed maps. Used by the
// combine engine and the answer synthesizer; the positional form stays
// authoritative for persistence.
func (f ResultFrame) RowMaps() []map[string]any {
	out := make([]map[string]any, 0, len(f.Rows))
	for _, row := range f.Rows {
		m := make(map[string]any, len(f.Columns))
		for i, c := range f.Columns {
			if i < len(row) {
				m[c.Name] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}

// FailedFrame builds a failure frame with a structured error.
func FailedFrame(code ErrorCode, safeMsg string) ResultFrame {
	return ResultFrame{
		Success: false,
		Error: &FrameError{
			Code:        code,
			SafeMessage: safeMsg,
			Severity:    "ERROR",
			Retryable:   RetryableCode(code),
		},
	}
}
