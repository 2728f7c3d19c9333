// Package adapter defines the capability-typed plug-in boundary between the
// pipeline and concrete data-source engines, plus the registry that owns one
// adapter instance per configured datasource.
//
// Concrete engine drivers live outside the core; everything here is the
// contract they satisfy and the machinery that routes to them.
package adapter

import (
	"context"
	"fmt"

	"datalens/internal/types"
)

// Adapter is the contract every engine plug-in satisfies. Implementations
// must be safe for concurrent Execute calls or declare otherwise via their
// construction; the registry assumes concurrency safety.
type Adapter interface {
	// Capabilities is pure and cheap; it is authoritative for routing.
	Capabilities() types.CapabilitySet

	// Connect performs idempotent initialization. Called once at
	// registration; a failure fails startup.
	Connect(ctx context.Context) error

	// FetchSchemaSnapshot returns the full canonical snapshot. Requires
	// SUPPORTS_SCHEMA_INTROSPECTION.
	FetchSchemaSnapshot(ctx context.Context) (SchemaSnapshot, error)

	// Execute runs one request and never panics; failures come back as
	// frames with Success=false and a safe message.
	Execute(ctx context.Context, req types.AdapterRequest) types.ResultFrame

	// Dialect returns the normalized SQL dialect tag (e.g. "postgres").
	Dialect() string

	// TestConnection is a cheap health probe.
	TestConnection(ctx context.Context) bool

	// Details returns non-sensitive descriptive fields for diagnostics.
	Details() map[string]any
}

// SchemaSnapshot is the adapter-side snapshot handed to indexing. The schema
// store assigns versions; adapters only report content.
type SchemaSnapshot struct {
	DatasourceID string
	Contract     SchemaContract
	Metadata     SchemaMetadata
}

// SchemaContract is an ordered mapping from fully-qualified table name
// ("[schema].[table]") to its table contract.
type SchemaContract struct {
	TableOrder []string
	Tables     map[string]TableContract
}

// TableContract describes one table's columns and foreign keys.
type TableContract struct {
	Columns     []ColumnContract
	ForeignKeys []ForeignKey
}

// ColumnContract describes one column.
type ColumnContract struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
}

// Cardinality types a foreign-key relationship.
type Cardinality string

const (
	OneToOne   Cardinality = "one_to_one"
	OneToMany  Cardinality = "one_to_many"
	ManyToOne  Cardinality = "many_to_one"
	ManyToMany Cardinality = "many_to_many"
)

// ForeignKey describes one typed relationship.
type ForeignKey struct {
	Column           string
	ReferencedTable  string
	ReferencedColumn string
	Cardinality      Cardinality
}

// SchemaMetadata carries descriptions and statistics used for retrieval and
// planning. It never participates in version fingerprinting.
type SchemaMetadata struct {
	Description string
	Tables      map[string]TableMetadata
}

// TableMetadata is per-table enrichment.
type TableMetadata struct {
	Description string
	RowCount    int64
	Columns     map[string]ColumnMetadata
}

// ColumnMetadata is per-column enrichment.
type ColumnMetadata struct {
	Description   string
	Synonyms      []string
	PII           bool
	DistinctCount int64
	SampleValues  []string
}

// Validate checks the snapshot invariants: unique column names per table and
// foreign keys referencing tables present in the contract.
func (c SchemaContract) Validate() error {
	if len(c.TableOrder) != len(c.Tables) {
		return fmt.Errorf("table order lists %d tables, contract has %d", len(c.TableOrder), len(c.Tables))
	}
	for _, name := range c.TableOrder {
		tc, ok := c.Tables[name]
		if !ok {
			return fmt.Errorf("ordered table %q missing from contract", name)
		}
		seen := make(map[string]bool, len(tc.Columns))
		for _, col := range tc.Columns {
			if seen[col.Name] {
				return fmt.Errorf("table %q: duplicate column %q", name, col.Name)
			}
			seen[col.Name] = true
		}
		for _, fk := range tc.ForeignKeys {
			if _, ok := c.Tables[fk.ReferencedTable]; !ok {
				return fmt.Errorf("table %q: foreign key references unknown table %q", name, fk.ReferencedTable)
			}
		}
	}
	return nil
}

// Profile is the registry's per-datasource record: the adapter plus the
// safeguard ceilings from configuration.
type Profile struct {
	DatasourceID string
	EngineType   string
	RowLimit     int
	MaxBytes     int64
	// StatementTimeoutMS bounds a single statement inside the engine.
	StatementTimeoutMS int
}

// Limits converts the profile ceilings to request limits.
func (p Profile) Limits() types.Limits {
	return types.Limits{
		RowLimit:  p.RowLimit,
		TimeoutMS: p.StatementTimeoutMS,
		MaxBytes:  p.MaxBytes,
	}
}
