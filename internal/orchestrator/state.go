// Package orchestrator is the top-level request-to-answer graph: intent
// validation, datasource resolution, decomposition, global DAG planning,
// layered fan-out to sub-pipelines, deterministic aggregation, and answer
// synthesis over a shared reduced state.
package orchestrator

import (
	"datalens/internal/agents"
	"datalens/internal/subquery"
	"datalens/internal/types"
)

// ResolvedDatasource is one routing candidate surviving policy and
// capability filters.
type ResolvedDatasource struct {
	DatasourceID  string  `json:"datasource_id"`
	SchemaVersion string  `json:"schema_version"`
	Score         float64 `json:"score"`
	Description   string  `json:"description,omitempty"`
}

// GraphState is the shared dictionary threaded through the orchestrator.
// Nodes never mutate it directly; they return Deltas that Reduce merges
// with per-field policies.
type GraphState struct {
	TraceID   string             `json:"trace_id"`
	UserQuery string             `json:"user_query"`
	User      types.UserContext  `json:"user_context"`

	ResolvedDatasources      []ResolvedDatasource `json:"resolved_datasources,omitempty"`
	AllowedDatasourceIDs     []string             `json:"allowed_datasource_ids,omitempty"`
	UnsupportedDatasourceIDs []string             `json:"unsupported_datasource_ids,omitempty"`

	Decomposer *agents.DecomposerResponse `json:"decomposer_response,omitempty"`
	DAG        *types.ExecutionDAG        `json:"dag,omitempty"`

	ArtifactRefs    map[string]types.ArtifactRef `json:"artifact_refs,omitempty"`
	SubgraphOutputs map[string]subquery.Output   `json:"subgraph_outputs,omitempty"`

	TerminalResults map[string][]map[string]any  `json:"terminal_results,omitempty"`
	ComputedRefs    map[string]types.ArtifactRef `json:"computed_refs,omitempty"`

	Answer *agents.AggregatedResponse `json:"answer_synthesizer_response,omitempty"`

	Errors    []types.PipelineError  `json:"errors,omitempty"`
	Reasoning []types.ReasoningEntry `json:"reasoning,omitempty"`
}

// Delta is a node's contribution to the shared state. List fields append,
// map fields union by key, pointer fields are single-writer scalars.
type Delta struct {
	ResolvedDatasources      []ResolvedDatasource
	AllowedDatasourceIDs     []string
	UnsupportedDatasourceIDs []string

	Decomposer *agents.DecomposerResponse
	DAG        *types.ExecutionDAG

	ArtifactRefs    map[string]types.ArtifactRef
	SubgraphOutputs map[string]subquery.Output

	TerminalResults map[string][]map[string]any
	ComputedRefs    map[string]types.ArtifactRef

	Answer *agents.AggregatedResponse

	Errors    []types.PipelineError
	Reasoning []types.ReasoningEntry
}

// Reduce merges a delta into the state: append-only for lists, key-union for
// maps (later writers win on key collision, which cannot happen for
// sub-query-keyed maps within a layer), last-write for scalars.
func Reduce(state *GraphState, d Delta) {
	state.ResolvedDatasources = append(state.ResolvedDatasources, d.ResolvedDatasources...)
	state.AllowedDatasourceIDs = append(state.AllowedDatasourceIDs, d.AllowedDatasourceIDs...)
	state.UnsupportedDatasourceIDs = append(state.UnsupportedDatasourceIDs, d.UnsupportedDatasourceIDs...)

	if d.Decomposer != nil {
		state.Decomposer = d.Decomposer
	}
	if d.DAG != nil {
		state.DAG = d.DAG
	}
	if d.Answer != nil {
		state.Answer = d.Answer
	}

	if len(d.ArtifactRefs) > 0 {
		if state.ArtifactRefs == nil {
			state.ArtifactRefs = make(map[string]types.ArtifactRef, len(d.ArtifactRefs))
		}
		for k, v := range d.ArtifactRefs {
			state.ArtifactRefs[k] = v
		}
	}
	if len(d.SubgraphOutputs) > 0 {
		if state.SubgraphOutputs == nil {
			state.SubgraphOutputs = make(map[string]subquery.Output, len(d.SubgraphOutputs))
		}
		for k, v := range d.SubgraphOutputs {
			state.SubgraphOutputs[k] = v
		}
	}
	if len(d.TerminalResults) > 0 {
		if state.TerminalResults == nil {
			state.TerminalResults = make(map[string][]map[string]any, len(d.TerminalResults))
		}
		for k, v := range d.TerminalResults {
			state.TerminalResults[k] = v
		}
	}
	if len(d.ComputedRefs) > 0 {
		if state.ComputedRefs == nil {
			state.ComputedRefs = make(map[string]types.ArtifactRef, len(d.ComputedRefs))
		}
		for k, v := range d.ComputedRefs {
			state.ComputedRefs[k] = v
		}
	}

	state.Errors = append(state.Errors, d.Errors...)
	state.Reasoning = append(state.Reasoning, d.Reasoning...)
}

// HasCritical reports whether the state carries a pipeline-terminating error.
func (s *GraphState) HasCritical() bool {
	for _, e := range s.Errors {
		if e.Severity == types.SeverityCritical {
			return true
		}
	}
	return false
}
