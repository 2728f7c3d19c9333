// Package adaptertest provides a scriptable in-memory adapter used by tests
// across the pipeline packages.
package adaptertest

import (
	"context"
	"sync"

	"datalens/internal/adapter"
	"datalens/internal/types"
)

// Fake is a scriptable adapter. Zero value is usable; configure fields before
// handing it to a registry.
type Fake struct {
	ID       string
	Caps     types.CapabilitySet
	Snapshot adapter.SchemaSnapshot
	// ExecuteFn overrides Execute entirely when set.
	ExecuteFn func(ctx context.Context, req types.AdapterRequest) types.ResultFrame
	// Frame is returned by Execute when ExecuteFn is nil.
	Frame       types.ResultFrame
	DialectTag  string
	ConnectErr  error
	Healthy     bool
	PanicOnExec bool

	mu       sync.Mutex
	Requests []types.AdapterRequest
}

// NewSQLFake builds a fake SQL-capable adapter around a single canned frame.
func NewSQLFake(id string, frame types.ResultFrame) *Fake {
	return &Fake{
		ID:         id,
		Caps:       types.NewCapabilitySet(types.CapSQL, types.CapSchemaIntrospection, types.CapDryRun, types.CapCostEstimate),
		Frame:      frame,
		DialectTag: "sqlite",
		Healthy:    true,
	}
}

func (f *Fake) Capabilities() types.CapabilitySet { return f.Caps }

func (f *Fake) Connect(context.Context) error { return f.ConnectErr }

func (f *Fake) FetchSchemaSnapshot(context.Context) (adapter.SchemaSnapshot, error) {
	return f.Snapshot, nil
}

func (f *Fake) Execute(ctx context.Context, req types.AdapterRequest) types.ResultFrame {
	f.mu.Lock()
	f.Requests = append(f.Requests, req)
	f.mu.Unlock()
	if f.PanicOnExec {
		panic("fake adapter forced panic")
	}
	if f.ExecuteFn != nil {
		return f.ExecuteFn(ctx, req)
	}
	return f.Frame
}

func (f *Fake) Dialect() string {
	if f.DialectTag == "" {
		return "sqlite"
	}
	return f.DialectTag
}

func (f *Fake) TestConnection(context.Context) bool { return f.Healthy }

func (f *Fake) Details() map[string]any {
	return map[string]any{"id": f.ID, "engine": "fake"}
}

// Recorded returns a copy of the requests seen so far.
func (f *Fake) Recorded() []types.AdapterRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.AdapterRequest, len(f.Requests))
	copy(out, f.Requests)
	return out
}

// Frame builds a successful frame from column names and rows.
func Frame(cols []string, rows [][]any) types.ResultFrame {
	metas := make([]types.ColumnMeta, len(cols))
	for i, c := range cols {
		metas[i] = types.ColumnMeta{Name: c, Type: "any"}
	}
	return types.ResultFrame{
		Success:  true,
		Columns:  metas,
		Rows:     rows,
		RowCount: len(rows),
	}
}
