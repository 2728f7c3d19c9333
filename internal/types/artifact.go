package types

import "time"

// ArtifactKey is the identity tuple an artifact URI is derived from.
type ArtifactKey struct {
	TenantID      string `json:"tenant_id"`
	RequestID     string `json:"request_id"`
	SubgraphName  string `json:"subgraph_name"`
	DAGNodeID     string `json:"dag_node_id"`
	SchemaVersion string `json:"schema_version,omitempty"`
}

// ArtifactRef is an immutable pointer to a persisted relation. The URI is
// deterministic in the key and the content hash is computed before the
// reference is published, so identical payloads converge.
type ArtifactRef struct {
	URI           string    `json:"uri"`
	Backend       string    `json:"backend"` // local | s3 | adls
	RowCount      int       `json:"row_count"`
	Columns       []string  `json:"columns"`
	ByteSize      int64     `json:"byte_size"`
	ContentHash   string    `json:"content_hash"`
	CreatedAt     time.Time `json:"created_at"`
	SchemaVersion string    `json:"schema_version,omitempty"`
	PathTemplate  string    `json:"path_template,omitempty"`
}

// SubgraphStatus is the terminal status of one sub-pipeline run.
type SubgraphStatus string

const (
	SubgraphSuccess SubgraphStatus = "success"
	SubgraphError   SubgraphStatus = "error"
)

// ReasoningEntry is one line of the pipeline's reasoning log.
type ReasoningEntry struct {
	Node    string `json:"node"`
	Content string `json:"content"`
}
