// Package schema stores versioned canonical schema snapshots. Versions are
// content fingerprints of the contract, so re-registering an identical
// contract is a no-op and statistics churn never mints new versions.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"datalens/internal/adapter"
)

// fingerprintColumn is the canonical column shape included in the hash.
type fingerprintColumn struct {
	Name       string `json:"n"`
	Type       string `json:"t"`
	Nullable   bool   `json:"null"`
	PrimaryKey bool   `json:"pk"`
}

type fingerprintFK struct {
	Column           string `json:"c"`
	ReferencedTable  string `json:"rt"`
	ReferencedColumn string `json:"rc"`
	Cardinality      string `json:"card"`
}

type fingerprintTable struct {
	Name        string              `json:"name"`
	Columns     []fingerprintColumn `json:"cols"`
	ForeignKeys []fingerprintFK     `json:"fks"`
}

// Fingerprint computes the stable schema version for a contract. Only the
// contract participates: table order, columns, and foreign keys. Metadata
// (descriptions, row counts, statistics) is excluded by design.
func Fingerprint(contract adapter.SchemaContract) string {
	tables := make([]fingerprintTable, 0, len(contract.TableOrder))
	for _, name := range contract.TableOrder {
		tc := contract.Tables[name]
		ft := fingerprintTable{Name: name}
		for _, col := range tc.Columns {
			ft.Columns = append(ft.Columns, fingerprintColumn{
				Name: col.Name, Type: col.Type, Nullable: col.Nullable, PrimaryKey: col.PrimaryKey,
			})
		}
		for _, fk := range tc.ForeignKeys {
			ft.ForeignKeys = append(ft.ForeignKeys, fingerprintFK{
				Column: fk.Column, ReferencedTable: fk.ReferencedTable,
				ReferencedColumn: fk.ReferencedColumn, Cardinality: string(fk.Cardinality),
			})
		}
		tables = append(tables, ft)
	}
	payload, _ := json.Marshal(tables)
	sum := sha256.Sum256(payload)
	return "sv_" + hex.EncodeToString(sum[:])[:16]
}
