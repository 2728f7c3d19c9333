// Package sqliteadapter is the embedded reference adapter: a read-only
// SQLite engine behind the adapter contract. It doubles as the conformance
// target for the contract tests and as a usable local engine.
package sqliteadapter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"datalens/internal/adapter"
	"datalens/internal/logging"
	dlsqlite "datalens/internal/sqlite"
	"datalens/internal/types"
)

func init() {
	adapter.RegisterConstructor("sqlite", func(id string, connArgs map[string]any, _ []string) (adapter.Adapter, error) {
		path, _ := connArgs["path"].(string)
		if path == "" {
			return nil, fmt.Errorf("sqlite adapter requires connection.path")
		}
		return New(id, path), nil
	})
}

// Adapter executes read-only SQL against one SQLite database file.
type Adapter struct {
	id   string
	path string
	db   *sql.DB
}

// New builds an unconnected adapter.
func New(id, path string) *Adapter {
	return &Adapter{id: id, path: path}
}

// Capabilities implements adapter.Adapter.
func (a *Adapter) Capabilities() types.CapabilitySet {
	return types.NewCapabilitySet(
		types.CapSQL,
		types.CapSchemaIntrospection,
		types.CapDryRun,
	)
}

// Connect implements adapter.Adapter; idempotent.
func (a *Adapter) Connect(context.Context) error {
	if a.db != nil {
		return nil
	}
	db, err := dlsqlite.Open(a.path)
	if err != nil {
		return err
	}
	a.db = db
	return nil
}

// Dialect implements adapter.Adapter.
func (a *Adapter) Dialect() string { return "sqlite" }

// TestConnection implements adapter.Adapter.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	if a.db == nil {
		return false
	}
	return a.db.PingContext(ctx) == nil
}

// Details implements adapter.Adapter.
func (a *Adapter) Details() map[string]any {
	return map[string]any{"id": a.id, "engine": "sqlite", "path": a.path}
}

// FetchSchemaSnapshot introspects all user tables.
func (a *Adapter) FetchSchemaSnapshot(ctx context.Context) (adapter.SchemaSnapshot, error) {
	if a.db == nil {
		return adapter.SchemaSnapshot{}, fmt.Errorf("adapter %s not connected", a.id)
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return adapter.SchemaSnapshot{}, err
	}
	var tableNames []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return adapter.SchemaSnapshot{}, err
		}
		tableNames = append(tableNames, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return adapter.SchemaSnapshot{}, err
	}

	contract := adapter.SchemaContract{Tables: make(map[string]adapter.TableContract, len(tableNames))}
	metadata := adapter.SchemaMetadata{Tables: make(map[string]adapter.TableMetadata, len(tableNames))}

	for _, name := range tableNames {
		full := "main." + name
		tc, err := a.tableContract(ctx, name)
		if err != nil {
			return adapter.SchemaSnapshot{}, err
		}
		contract.TableOrder = append(contract.TableOrder, full)
		contract.Tables[full] = tc

		var count int64
		_ = a.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, name)).Scan(&count)
		metadata.Tables[full] = adapter.TableMetadata{RowCount: count}
	}

	// Resolve FK targets to fully-qualified names now that all tables exist.
	for full, tc := range contract.Tables {
		for i, fk := range tc.ForeignKeys {
			tc.ForeignKeys[i].ReferencedTable = "main." + fk.ReferencedTable
		}
		contract.Tables[full] = tc
	}

	return adapter.SchemaSnapshot{DatasourceID: a.id, Contract: contract, Metadata: metadata}, nil
}

func (a *Adapter) tableContract(ctx context.Context, table string) (adapter.TableContract, error) {
	var tc adapter.TableContract

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info("%s")`, table))
	if err != nil {
		return tc, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return tc, err
		}
		tc.Columns = append(tc.Columns, adapter.ColumnContract{
			Name: name, Type: ctype, Nullable: notnull == 0, PrimaryKey: pk > 0,
		})
	}
	if err := rows.Err(); err != nil {
		return tc, err
	}

	fkRows, err := a.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA foreign_key_list("%s")`, table))
	if err != nil {
		return tc, err
	}
	defer fkRows.Close()
	for fkRows.Next() {
		var id, seq int
		var refTable, from, to string
		var onUpdate, onDelete, match string
		if err := fkRows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return tc, err
		}
		tc.ForeignKeys = append(tc.ForeignKeys, adapter.ForeignKey{
			Column: from, ReferencedTable: refTable, ReferencedColumn: to,
			Cardinality: adapter.ManyToOne,
		})
	}
	return tc, fkRows.Err()
}

// Execute implements adapter.Adapter. It never panics; all failures come
// back as structured frames.
func (a *Adapter) Execute(ctx context.Context, req types.AdapterRequest) (frame types.ResultFrame) {
	defer func() {
		if rec := recover(); rec != nil {
			frame = types.FailedFrame(types.ErrExecutionError, "sqlite adapter failed unexpectedly")
		}
	}()

	if req.PlanType != types.PlanSQL {
		return types.FailedFrame(types.ErrCapabilityViolation,
			fmt.Sprintf("sqlite adapter does not support plan type %q", req.PlanType))
	}
	sqlText, ok := req.SQL()
	if !ok {
		return types.FailedFrame(types.ErrMissingSQL, "sql payload required")
	}
	if a.db == nil {
		return types.FailedFrame(types.ErrExecutionFailed, "adapter not connected")
	}

	if req.Limits.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.Limits.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	if mode, _ := req.Payload["mode"].(string); mode == "dry_run" {
		return a.dryRun(ctx, sqlText)
	}

	start := time.Now()
	rows, err := a.db.QueryContext(ctx, sqlText)
	if err != nil {
		return types.FailedFrame(types.ErrExecutionFailed, safeDBError(err))
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return types.FailedFrame(types.ErrExecutionFailed, safeDBError(err))
	}

	out := types.ResultFrame{Success: true, DatasourceID: a.id}
	for _, c := range colNames {
		out.Columns = append(out.Columns, types.ColumnMeta{Name: c, Type: "any"})
	}

	rowLimit := req.Limits.RowLimit
	var approxBytes int64
	for rows.Next() {
		if rowLimit > 0 && out.RowCount >= rowLimit {
			out.Truncated = true
			break
		}
		values := make([]any, len(colNames))
		ptrs := make([]any, len(colNames))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return types.FailedFrame(types.ErrExecutionFailed, safeDBError(err))
		}
		for i, v := range values {
			if b, isBytes := v.([]byte); isBytes {
				values[i] = string(b)
			}
			approxBytes += approxSize(values[i])
		}
		out.Rows = append(out.Rows, values)
		out.RowCount++

		if req.Limits.MaxBytes > 0 && approxBytes > req.Limits.MaxBytes {
			out.Truncated = true
			break
		}
	}
	if err := rows.Err(); err != nil {
		return types.FailedFrame(types.ErrExecutionFailed, safeDBError(err))
	}

	out.Bytes = approxBytes
	out.ExecutionStats = map[string]any{
		"execution_time_ms": time.Since(start).Milliseconds(),
	}
	logging.For(ctx, logging.CategoryAdapter).Debugw("sqlite execution",
		"datasource_id", a.id, "rows", out.RowCount, "truncated", out.Truncated)
	return out
}

// dryRun validates the statement via EXPLAIN without producing rows.
func (a *Adapter) dryRun(ctx context.Context, sqlText string) types.ResultFrame {
	rows, err := a.db.QueryContext(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		return types.FailedFrame(types.ErrExecutionFailed, safeDBError(err))
	}
	rows.Close()
	return types.ResultFrame{Success: true, DatasourceID: a.id}
}

func approxSize(v any) int64 {
	switch x := v.(type) {
	case string:
		return int64(len(x))
	case nil:
		return 1
	default:
		return 8
	}
}

// safeDBError keeps driver messages, truncated to 200 characters; SQLite
// errors do not embed credentials.
func safeDBError(err error) string {
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}
