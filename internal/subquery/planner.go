package subquery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"datalens/internal/agents"
	"datalens/internal/plan"
	"datalens/internal/types"
)

const plannerNode = "ast_planner"

// runPlanner asks the planner agent for a typed plan. When the state carries
// refiner feedback it is prepended to the user prompt.
func (p *Pipeline) runPlanner(ctx context.Context, s *state, feedback string) []types.PipelineError {
	defer p.Metrics.TimeNode(plannerNode, s.req.SubQuery.DatasourceID)()

	sq := s.req.SubQuery
	expectations := renderExpectations(sq)
	user := fmt.Sprintf(plannerUserTemplate, sq.Intent, sq.DatasourceID, p.planningContext(ctx, s), expectations)
	if feedback != "" {
		user = feedback + user
	}

	resp, err := agents.Invoke[agents.PlannerResponse](ctx, p.LLM, plannerNode, plannerSystemPrompt, user)
	if err != nil {
		return []types.PipelineError{agents.ErrorRecord(plannerNode, err)}
	}
	if resp.Plan == nil {
		return []types.PipelineError{
			types.NewError(plannerNode, types.ErrPlanningFailure, "planner returned no plan"),
		}
	}
	if resp.Plan.QueryType == "" {
		resp.Plan.QueryType = plan.QueryRead
	}
	if err := resp.Plan.ValidateStructure(); err != nil {
		return []types.PipelineError{
			types.NewError(plannerNode, types.ErrPlanningFailure,
				fmt.Sprintf("plan failed structural validation: %v", err)),
		}
	}

	s.plan = resp.Plan
	if resp.Reasoning != "" {
		s.addReasoning(plannerNode, resp.Reasoning)
	}
	return nil
}

func renderExpectations(sq types.SubQuery) string {
	var parts []string
	if len(sq.Metrics) > 0 {
		parts = append(parts, "metrics: "+strings.Join(sq.Metrics, ", "))
	}
	if len(sq.Filters) > 0 {
		parts = append(parts, "filters: "+strings.Join(sq.Filters, ", "))
	}
	if len(sq.GroupBy) > 0 {
		parts = append(parts, "group by: "+strings.Join(sq.GroupBy, ", "))
	}
	if len(sq.ExpectedColumns) > 0 {
		parts = append(parts, "expected columns: "+strings.Join(sq.ExpectedColumns, ", "))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "\n")
}

const refinerNode = "refiner"

// refine composes the textual feedback packet from the accumulated errors
// and the last plan, for the next planner attempt.
func (p *Pipeline) refine(s *state, errs []types.PipelineError) string {
	var issues strings.Builder
	for _, e := range errs {
		issues.WriteString("- [")
		issues.WriteString(string(e.Code))
		issues.WriteString("] ")
		issues.WriteString(e.Message)
		issues.WriteString("\n")
	}

	lastPlan := "(no plan produced)"
	if s.plan != nil {
		if data, err := json.MarshalIndent(s.plan, "", "  "); err == nil {
			lastPlan = string(data)
		}
	}
	s.addReasoning(refinerNode, fmt.Sprintf("composed feedback for retry %d (%d issues)", s.retryCount+1, len(errs)))
	return fmt.Sprintf(refinerTemplate, issues.String(), lastPlan)
}
