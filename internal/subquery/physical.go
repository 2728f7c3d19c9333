package subquery

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"datalens/internal/adapter"
	"datalens/internal/runtime"
	"datalens/internal/sandbox"
	"datalens/internal/types"
)

const physicalNode = "physical_validator"

// dmlPattern catches write statements that should never survive the typed
// plan layer. A defense-in-depth textual check on the generated SQL.
var dmlPattern = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE|CREATE|GRANT|REVOKE|MERGE)\b`)

// validatePhysical checks the generated SQL against the engine: a textual
// write guard, then dry-run and cost estimation when the adapter supports
// them. Cost overruns are warnings; dry-run rejections are retryable errors.
func (p *Pipeline) validatePhysical(ctx context.Context, s *state) []types.PipelineError {
	defer p.Metrics.TimeNode(physicalNode, s.req.SubQuery.DatasourceID)()

	if dmlPattern.MatchString(s.sqlDraft) {
		e := types.NewError(physicalNode, types.ErrSecurityViolation,
			"generated SQL contains a write statement")
		e.Retryable = false
		return []types.PipelineError{e}
	}

	a, err := p.Registry.Get(s.req.SubQuery.DatasourceID)
	if err != nil {
		return []types.PipelineError{
			types.NewError(physicalNode, types.ErrMissingDatasourceID, err.Error()),
		}
	}
	profile, _ := p.Registry.Profile(s.req.SubQuery.DatasourceID)
	caps := a.Capabilities()

	var errs []types.PipelineError

	if caps.Has(types.CapDryRun) {
		frame := p.submitToAdapter(ctx, s, a, profile, "dry_run")
		if !frame.Success {
			msg := "dry run rejected the query"
			if frame.Error != nil {
				msg = fmt.Sprintf("dry run rejected the query: %s", frame.Error.SafeMessage)
			}
			errs = append(errs, types.NewError(physicalNode, types.ErrExecutionFailed, msg))
			return errs
		}
	}

	if caps.Has(types.CapCostEstimate) {
		frame := p.submitToAdapter(ctx, s, a, profile, "cost_estimate")
		if frame.Success {
			if est, ok := estimatedRows(frame); ok && profile.RowLimit > 0 && est > int64(profile.RowLimit) {
				errs = append(errs, types.NewWarning(physicalNode, types.ErrPerformanceWarning,
					fmt.Sprintf("estimated %d rows exceeds row limit %d", est, profile.RowLimit)))
			}
		}
	}

	if len(types.Blocking(errs)) == 0 {
		s.addReasoning(physicalNode, "query passed physical validation")
	}
	return errs
}

// submitToAdapter runs one auxiliary mode (dry_run / cost_estimate) through
// the interactive pool. Failures here never touch the DB breaker: the
// executor owns breaker accounting.
func (p *Pipeline) submitToAdapter(ctx context.Context, s *state, a adapter.Adapter, profile adapter.Profile, mode string) types.ResultFrame {
	req := sandbox.ExecutionRequest{
		Mode:         sandbox.ExecutionMode(mode),
		DatasourceID: s.req.SubQuery.DatasourceID,
		EngineType:   profile.EngineType,
		SQL:          s.sqlDraft,
		Limits:       profile.Limits(),
		TraceID:      s.req.TraceID,
	}
	timeout := runtime.SubmissionDeadline(ctx, time.Duration(profile.StatementTimeoutMS)*time.Millisecond)
	res := p.Pools.Interactive.Submit(ctx, req, timeout, func(ctx context.Context, req sandbox.ExecutionRequest) sandbox.ExecutionResult {
		frame := adapter.GuardedExecute(ctx, a, types.AdapterRequest{
			PlanType: types.PlanSQL,
			Payload:  map[string]any{"sql": req.SQL, "mode": mode},
			Limits:   req.Limits,
			TraceID:  req.TraceID,
		})
		return sandbox.ExecutionResult{Success: frame.Success, Data: frame}
	})
	if frame, ok := res.Data.(types.ResultFrame); ok {
		return frame
	}
	return types.FailedFrame(types.ErrExecutionFailed, res.Error)
}

func estimatedRows(frame types.ResultFrame) (int64, bool) {
	v, ok := frame.ExecutionStats["estimated_rows"]
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}
