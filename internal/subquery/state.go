// Package subquery implements the per-sub-query execution sub-pipeline:
// schema retrieval, AST planning, logical validation, SQL generation,
// physical validation and sandboxed execution, with a bounded retry loop
// through the refiner.
package subquery

import (
	"datalens/internal/adapter"
	"datalens/internal/plan"
	"datalens/internal/types"
)

// Phase is the sub-pipeline state machine position.
type Phase string

const (
	PhaseSchemaRetrieved Phase = "schema_retrieved"
	PhaseASTPlanned      Phase = "ast_planned"
	PhaseLogicallyValid  Phase = "logically_valid"
	PhaseSQLGenerated    Phase = "sql_generated"
	PhasePhysicallyValid Phase = "physically_valid"
	PhaseExecuted        Phase = "executed"
	PhaseFailed          Phase = "failed"
)

// RetrievedTable is the planner-facing shape of one table: a name and its
// columns, in contract order.
type RetrievedTable struct {
	Name    string                   `json:"name"`
	Columns []adapter.ColumnContract `json:"columns"`
}

// Request identifies one sub-pipeline run.
type Request struct {
	TraceID       string
	User          types.UserContext
	SubQuery      types.SubQuery
	SubgraphName  string
	DAGNodeID     string
	SchemaVersion string
}

// state is the mutable working set threaded through the nodes.
type state struct {
	req           Request
	schemaVersion string
	tables        []RetrievedTable
	plan          *plan.Model
	sqlDraft      string
	artifact      *types.ArtifactRef
	retryCount    int
	phase         Phase
	errors        []types.PipelineError
	reasoning     []types.ReasoningEntry
}

func (s *state) addReasoning(node, content string) {
	s.reasoning = append(s.reasoning, types.ReasoningEntry{Node: node, Content: content})
}

// Output is the sub-pipeline's terminal result handed back to the
// orchestrator for merging.
type Output struct {
	SubQuery     types.SubQuery         `json:"sub_query"`
	SubgraphID   string                 `json:"subgraph_id"`
	SubgraphName string                 `json:"subgraph_name"`
	RetryCount   int                    `json:"retry_count"`
	Plan         *plan.Model            `json:"plan,omitempty"`
	SQLDraft     string                 `json:"sql_draft,omitempty"`
	Artifact     *types.ArtifactRef     `json:"artifact,omitempty"`
	Errors       []types.PipelineError  `json:"errors,omitempty"`
	Reasoning    []types.ReasoningEntry `json:"reasoning,omitempty"`
	Status       types.SubgraphStatus   `json:"status"`
}
