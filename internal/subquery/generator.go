package subquery

import (
	"context"
	"fmt"

	"datalens/internal/plan"
	"datalens/internal/types"
)

const generatorNode = "sql_generator"

// generateSQL deterministically serializes the plan into the adapter's
// dialect, clamping LIMIT to the datasource row limit.
func (p *Pipeline) generateSQL(ctx context.Context, s *state) []types.PipelineError {
	defer p.Metrics.TimeNode(generatorNode, s.req.SubQuery.DatasourceID)()

	a, err := p.Registry.Get(s.req.SubQuery.DatasourceID)
	if err != nil {
		return []types.PipelineError{
			types.NewError(generatorNode, types.ErrMissingDatasourceID, err.Error()),
		}
	}
	profile, err := p.Registry.Profile(s.req.SubQuery.DatasourceID)
	if err != nil {
		return []types.PipelineError{
			types.NewError(generatorNode, types.ErrMissingDatasourceID, err.Error()),
		}
	}

	sql, err := plan.NewGenerator(a.Dialect()).Generate(*s.plan, profile.RowLimit)
	if err != nil {
		return []types.PipelineError{
			types.NewError(generatorNode, types.ErrSQLGenFailed,
				fmt.Sprintf("plan could not be serialized: %v", err)),
		}
	}
	s.sqlDraft = sql
	s.addReasoning(generatorNode, fmt.Sprintf("generated %s SQL (%d chars)", a.Dialect(), len(sql)))
	return nil
}
