// Package artifact persists relation results as content-addressed parquet
// objects. URIs are deterministic in the identity tuple, so re-executing a
// node is a no-op overwrite of identical bytes.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"datalens/internal/logging"
	"datalens/internal/types"
)

// DefaultPathTemplate is the artifact key layout. Placeholders are replaced
// by name; a missing schema version becomes "unversioned".
const DefaultPathTemplate = "{tenant_id}/{request_id}/{subgraph_name}/{dag_node_id}/{schema_version}/part-00000.parquet"

// Backend is the blob plane an artifact store writes through.
type Backend interface {
	// Name returns the backend tag: local | s3 | adls.
	Name() string
	// Put writes the object at key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte) (uri string, err error)
	// Get reads the object previously written at uri.
	Get(ctx context.Context, uri string) ([]byte, error)
}

// Store writes and reads result frames.
type Store struct {
	backend  Backend
	template string
	now      func() time.Time
}

// NewStore builds a store over a backend. An empty template selects
// DefaultPathTemplate.
func NewStore(backend Backend, template string) *Store {
	if template == "" {
		template = DefaultPathTemplate
	}
	return &Store{backend: backend, template: template, now: time.Now}
}

// Key renders the object key for an identity tuple.
func (s *Store) Key(key types.ArtifactKey) string {
	version := key.SchemaVersion
	if version == "" {
		version = "unversioned"
	}
	r := strings.NewReplacer(
		"{tenant_id}", sanitizeSegment(key.TenantID),
		"{request_id}", sanitizeSegment(key.RequestID),
		"{subgraph_name}", sanitizeSegment(key.SubgraphName),
		"{dag_node_id}", sanitizeSegment(key.DAGNodeID),
		"{schema_version}", sanitizeSegment(version),
	)
	return r.Replace(s.template)
}

func sanitizeSegment(s string) string {
	if s == "" {
		return "_"
	}
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, s)
	return strings.ReplaceAll(mapped, "..", "_")
}

// contentHash computes the deterministic hash of a frame's relational
// content: column names in order plus row values. Identical payloads always
// produce identical hashes regardless of backend or timing.
func contentHash(frame types.ResultFrame) string {
	payload := struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
	}{Columns: frame.ColumnNames(), Rows: frame.Rows}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WriteResultFrame persists the frame and returns its reference. The content
// hash is computed before the reference is published.
func (s *Store) WriteResultFrame(ctx context.Context, frame types.ResultFrame, key types.ArtifactKey) (types.ArtifactRef, error) {
	if !frame.Success {
		return types.ArtifactRef{}, fmt.Errorf("refusing to persist failed frame")
	}

	hash := contentHash(frame)
	data, err := encodeParquet(frame)
	if err != nil {
		return types.ArtifactRef{}, fmt.Errorf("encoding frame: %w", err)
	}

	objectKey := s.Key(key)
	uri, err := s.backend.Put(ctx, objectKey, data)
	if err != nil {
		return types.ArtifactRef{}, fmt.Errorf("writing artifact %s: %w", objectKey, err)
	}

	ref := types.ArtifactRef{
		URI:           uri,
		Backend:       s.backend.Name(),
		RowCount:      frame.RowCount,
		Columns:       frame.ColumnNames(),
		ByteSize:      int64(len(data)),
		ContentHash:   hash,
		CreatedAt:     s.now().UTC(),
		SchemaVersion: key.SchemaVersion,
		PathTemplate:  s.template,
	}
	logging.For(ctx, logging.CategoryArtifact).Infow("artifact written",
		"uri", uri, "rows", ref.RowCount, "bytes", ref.ByteSize, "hash", hash[:12])
	return ref, nil
}

// ReadResultFrame loads the frame a reference points at.
func (s *Store) ReadResultFrame(ctx context.Context, ref types.ArtifactRef) (types.ResultFrame, error) {
	data, err := s.backend.Get(ctx, ref.URI)
	if err != nil {
		return types.ResultFrame{}, fmt.Errorf("reading artifact %s: %w", ref.URI, err)
	}
	frame, err := decodeParquet(data, ref.Columns)
	if err != nil {
		return types.ResultFrame{}, fmt.Errorf("decoding artifact %s: %w", ref.URI, err)
	}
	return frame, nil
}
