package subquery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"datalens/internal/logging"
	"datalens/internal/runtime"
	"datalens/internal/sandbox"
	"datalens/internal/types"
)

const executorNode = "executor"

// execute submits the SQL to the interactive sandbox pool behind the DB
// breaker, enforces the byte safeguard, and persists the frame as an
// artifact. Crashes count toward the breaker; SQL-level failures do not.
func (p *Pipeline) execute(ctx context.Context, s *state) []types.PipelineError {
	defer p.Metrics.TimeNode(executorNode, s.req.SubQuery.DatasourceID)()

	if s.sqlDraft == "" {
		return []types.PipelineError{
			types.NewError(executorNode, types.ErrMissingSQL, "no SQL draft to execute"),
		}
	}
	if s.req.SubQuery.DatasourceID == "" {
		return []types.PipelineError{
			types.NewError(executorNode, types.ErrMissingDatasourceID, "sub-query has no datasource"),
		}
	}
	// Cancellation checkpoint before the cross-process suspension.
	select {
	case <-ctx.Done():
		return []types.PipelineError{cancellationRecord(ctx)}
	default:
	}

	a, err := p.Registry.Get(s.req.SubQuery.DatasourceID)
	if err != nil {
		return []types.PipelineError{
			types.NewError(executorNode, types.ErrMissingDatasourceID, err.Error()),
		}
	}
	profile, _ := p.Registry.Profile(s.req.SubQuery.DatasourceID)

	result, err := p.Breakers.DB.Do(func() (any, error) {
		req := sandbox.ExecutionRequest{
			Mode:         sandbox.ModeExecute,
			DatasourceID: s.req.SubQuery.DatasourceID,
			EngineType:   profile.EngineType,
			SQL:          s.sqlDraft,
			Limits:       profile.Limits(),
			TraceID:      s.req.TraceID,
		}
		timeout := runtime.SubmissionDeadline(ctx, time.Duration(profile.StatementTimeoutMS)*time.Millisecond)
		// The adapter is invoked bare here: the contract says Execute never
		// raises, and if an implementation violates that the pool translates
		// the panic into a SANDBOX CRASH result, which is exactly the
		// semantics a dead worker process would have.
		res := p.Pools.Interactive.Submit(ctx, req, timeout, func(ctx context.Context, req sandbox.ExecutionRequest) sandbox.ExecutionResult {
			frame := a.Execute(ctx, types.AdapterRequest{
				PlanType: types.PlanSQL,
				Payload:  map[string]any{"sql": req.SQL},
				Limits:   req.Limits,
				TraceID:  req.TraceID,
			})
			return sandbox.ExecutionResult{Success: frame.Success, Data: frame, Metrics: map[string]float64{}}
		})

		if sandbox.IsCrash(res) {
			p.Audit.LogEvent(logging.AuditSandboxCrash, map[string]any{
				"datasource_id": s.req.SubQuery.DatasourceID,
				"error":         res.Error,
			}, s.req.TraceID, s.req.User.TenantID)
			// Hard infrastructure failure: counts toward the breaker.
			return nil, fmt.Errorf("executor crash: %s", res.Error)
		}
		// SQL-level failures are results, not infrastructure faults.
		return res, nil
	})
	if err != nil {
		if errors.Is(err, sandbox.ErrUnavailable) {
			return []types.PipelineError{
				types.NewError(executorNode, types.ErrServiceUnavailable,
					"database execution plane temporarily unavailable"),
			}
		}
		return []types.PipelineError{
			types.NewError(executorNode, types.ErrExecutorCrash, sanitize(err.Error())),
		}
	}

	res := result.(sandbox.ExecutionResult)
	frame, _ := res.Data.(types.ResultFrame)
	if !res.Success {
		msg := res.Error
		if frame.Error != nil {
			msg = frame.Error.SafeMessage
		}
		if msg == "" {
			msg = "execution failed"
		}
		return []types.PipelineError{
			types.NewError(executorNode, types.ErrExecutionFailed, sanitize(msg)),
		}
	}

	if profile.MaxBytes > 0 && frame.Bytes > profile.MaxBytes {
		e := types.NewError(executorNode, types.ErrSafeguardViolation,
			fmt.Sprintf("result size %d bytes exceeds limit %d", frame.Bytes, profile.MaxBytes))
		e.Retryable = false
		return []types.PipelineError{e}
	}

	frame.DatasourceID = s.req.SubQuery.DatasourceID
	frame.TenantID = s.req.User.TenantID

	ref, err := p.Artifacts.WriteResultFrame(ctx, frame, types.ArtifactKey{
		TenantID:      s.req.User.TenantID,
		RequestID:     s.req.TraceID,
		SubgraphName:  s.req.SubgraphName,
		DAGNodeID:     s.req.DAGNodeID,
		SchemaVersion: s.schemaVersion,
	})
	if err != nil {
		return []types.PipelineError{
			types.NewError(executorNode, types.ErrExecutionError,
				fmt.Sprintf("result could not be persisted: %v", err)),
		}
	}

	s.artifact = &ref
	s.addReasoning(executorNode, fmt.Sprintf("executed; %d rows persisted to %s", frame.RowCount, ref.Backend))
	return nil
}

func cancellationRecord(ctx context.Context) types.PipelineError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.NewCritical(executorNode, types.ErrPipelineTimeout, "deadline exceeded")
	}
	return types.NewCritical(executorNode, types.ErrCancelled, "cancelled")
}

// sanitize trims messages so raw SQL or driver internals stay out of
// user-facing fields.
func sanitize(msg string) string {
	if len(msg) > 300 {
		return msg[:300] + "..."
	}
	return msg
}
