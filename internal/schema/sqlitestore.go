package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"datalens/internal/adapter"
	"datalens/internal/logging"
	dlsqlite "datalens/internal/sqlite"
)

// SQLiteStore is the file-backed Store. Observable behavior matches
// MemoryStore; snapshots are immutable rows keyed by (datasource, version).
type SQLiteStore struct {
	db          *sql.DB
	maxVersions int
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_snapshots (
	datasource_id TEXT NOT NULL,
	version       TEXT NOT NULL,
	seq           INTEGER NOT NULL,
	contract      TEXT NOT NULL,
	metadata      TEXT NOT NULL,
	created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	PRIMARY KEY (datasource_id, version)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_seq ON schema_snapshots(datasource_id, seq);
`

// snapshotDoc is the persisted JSON form of a snapshot contract.
type snapshotDoc struct {
	TableOrder []string                           `json:"table_order"`
	Tables     map[string]adapter.TableContract   `json:"tables"`
}

// NewSQLiteStore opens (or creates) the store at path.
func NewSQLiteStore(path string, maxVersions int) (*SQLiteStore, error) {
	if maxVersions <= 0 {
		maxVersions = DefaultMaxVersions
	}
	db, err := dlsqlite.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema tables: %w", err)
	}
	return &SQLiteStore{db: db, maxVersions: maxVersions}, nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// RegisterSnapshot implements Store.
func (s *SQLiteStore) RegisterSnapshot(ctx context.Context, snapshot adapter.SchemaSnapshot) (string, []string, error) {
	if snapshot.DatasourceID == "" {
		return "", nil, fmt.Errorf("snapshot missing datasource id")
	}
	if err := snapshot.Contract.Validate(); err != nil {
		return "", nil, fmt.Errorf("invalid contract: %w", err)
	}
	version := Fingerprint(snapshot.Contract)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schema_snapshots WHERE datasource_id = ? AND version = ?`,
		snapshot.DatasourceID, version).Scan(&exists)
	if err != nil {
		return "", nil, err
	}
	if exists > 0 {
		return version, nil, tx.Commit()
	}

	contractJSON, err := json.Marshal(snapshotDoc{
		TableOrder: snapshot.Contract.TableOrder,
		Tables:     snapshot.Contract.Tables,
	})
	if err != nil {
		return "", nil, err
	}
	metadataJSON, err := json.Marshal(snapshot.Metadata)
	if err != nil {
		return "", nil, err
	}

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM schema_snapshots WHERE datasource_id = ?`,
		snapshot.DatasourceID).Scan(&maxSeq); err != nil {
		return "", nil, err
	}
	seq := maxSeq.Int64 + 1

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_snapshots (datasource_id, version, seq, contract, metadata) VALUES (?, ?, ?, ?, ?)`,
		snapshot.DatasourceID, version, seq, string(contractJSON), string(metadataJSON)); err != nil {
		return "", nil, err
	}

	// Evict oldest beyond retention.
	rows, err := tx.QueryContext(ctx,
		`SELECT version FROM schema_snapshots WHERE datasource_id = ? ORDER BY seq ASC`,
		snapshot.DatasourceID)
	if err != nil {
		return "", nil, err
	}
	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return "", nil, err
		}
		versions = append(versions, v)
	}
	rows.Close()

	var evicted []string
	if excess := len(versions) - s.maxVersions; excess > 0 {
		evicted = versions[:excess]
		for _, v := range evicted {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM schema_snapshots WHERE datasource_id = ? AND version = ?`,
				snapshot.DatasourceID, v); err != nil {
				return "", nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", nil, err
	}
	logging.For(ctx, logging.CategorySchema).Infow("schema snapshot registered",
		"datasource_id", snapshot.DatasourceID, "version", version, "evicted", evicted)
	return version, evicted, nil
}

// GetLatestVersion implements Store.
func (s *SQLiteStore) GetLatestVersion(ctx context.Context, datasourceID string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM schema_snapshots WHERE datasource_id = ? ORDER BY seq DESC LIMIT 1`,
		datasourceID).Scan(&v)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("no schema versions for datasource %q", datasourceID)
	}
	return v, err
}

// ListVersions implements Store; oldest first.
func (s *SQLiteStore) ListVersions(ctx context.Context, datasourceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version FROM schema_snapshots WHERE datasource_id = ? ORDER BY seq ASC`, datasourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetSnapshot implements Store.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, datasourceID, version string) (adapter.SchemaSnapshot, error) {
	var contractJSON, metadataJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT contract, metadata FROM schema_snapshots WHERE datasource_id = ? AND version = ?`,
		datasourceID, version).Scan(&contractJSON, &metadataJSON)
	if err == sql.ErrNoRows {
		return adapter.SchemaSnapshot{}, fmt.Errorf("snapshot %s/%s not found", datasourceID, version)
	}
	if err != nil {
		return adapter.SchemaSnapshot{}, err
	}

	var doc snapshotDoc
	if err := json.Unmarshal([]byte(contractJSON), &doc); err != nil {
		return adapter.SchemaSnapshot{}, fmt.Errorf("corrupt contract for %s/%s: %w", datasourceID, version, err)
	}
	var meta adapter.SchemaMetadata
	if err := json.Unmarshal([]byte(metadataJSON), &meta); err != nil {
		return adapter.SchemaSnapshot{}, fmt.Errorf("corrupt metadata for %s/%s: %w", datasourceID, version, err)
	}
	return adapter.SchemaSnapshot{
		DatasourceID: datasourceID,
		Contract:     adapter.SchemaContract{TableOrder: doc.TableOrder, Tables: doc.Tables},
		Metadata:     meta,
	}, nil
}

// GetTableContract implements Store.
func (s *SQLiteStore) GetTableContract(ctx context.Context, datasourceID, version, table string) (adapter.TableContract, error) {
	snap, err := s.GetSnapshot(ctx, datasourceID, version)
	if err != nil {
		return adapter.TableContract{}, err
	}
	tc, ok := snap.Contract.Tables[table]
	if !ok {
		return adapter.TableContract{}, fmt.Errorf("table %q not in snapshot %s/%s", table, datasourceID, version)
	}
	return tc, nil
}

// GetTableMetadata implements Store.
func (s *SQLiteStore) GetTableMetadata(ctx context.Context, datasourceID, version, table string) (adapter.TableMetadata, error) {
	snap, err := s.GetSnapshot(ctx, datasourceID, version)
	if err != nil {
		return adapter.TableMetadata{}, err
	}
	tm, ok := snap.Metadata.Tables[table]
	if !ok {
		return adapter.TableMetadata{}, fmt.Errorf("no metadata for table %q in %s/%s", table, datasourceID, version)
	}
	return tm, nil
}
