package agents

import (
	"datalens/internal/plan"
	"datalens/internal/types"
)

// Structured-output contracts for every LLM-backed node. Each wrapper
// refuses to return unparsed content; parse failures become error records at
// the call site.

// IntentValidationResult is the safety gate's verdict.
type IntentValidationResult struct {
	IsSafe bool `json:"is_safe"`
	// ViolationCategory is one of jailbreak, pii_exfiltration, destructive,
	// system_probing, or none.
	ViolationCategory string `json:"violation_category"`
	Reasoning         string `json:"reasoning"`
}

// UnmappedSubQuery is a decomposed fragment with no executable target.
type UnmappedSubQuery struct {
	Intent string `json:"intent"`
	Reason string `json:"reason"`
}

// DecomposerResponse splits the user query into per-datasource sub-queries
// plus the combine skeleton.
type DecomposerResponse struct {
	SubQueries        []types.SubQuery   `json:"sub_queries"`
	CombineGroups     []types.DAGNode    `json:"combine_groups,omitempty"`
	PostCombineOps    []types.DAGNode    `json:"post_combine_ops,omitempty"`
	UnmappedSubQueries []UnmappedSubQuery `json:"unmapped_subqueries,omitempty"`
	Confidence        float64            `json:"confidence,omitempty"`
	Reasoning         string             `json:"reasoning,omitempty"`
}

// GlobalPlannerResponse is the typed execution DAG.
type GlobalPlannerResponse struct {
	DAG       types.ExecutionDAG `json:"dag"`
	Reasoning string             `json:"reasoning,omitempty"`
}

// PlannerResponse is the AST planner's output for one sub-query.
type PlannerResponse struct {
	Plan      *plan.Model `json:"plan"`
	Reasoning string      `json:"reasoning,omitempty"`
}

// AggregatedResponse is the answer synthesizer's user-visible result.
type AggregatedResponse struct {
	Summary string `json:"summary"`
	// FormatType is table, list, or text.
	FormatType string   `json:"format_type"`
	Content    string   `json:"content"`
	Warnings   []string `json:"warnings,omitempty"`
}

// ValidFormatType normalizes the synthesizer's format tag.
func ValidFormatType(s string) string {
	switch s {
	case "table", "list", "text":
		return s
	default:
		return "text"
	}
}
