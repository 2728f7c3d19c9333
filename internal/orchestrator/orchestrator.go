package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"datalens/internal/adapter"
	"datalens/internal/agents"
	"datalens/internal/artifact"
	"datalens/internal/index"
	"datalens/internal/logging"
	"datalens/internal/metrics"
	"datalens/internal/policy"
	"datalens/internal/runtime"
	"datalens/internal/sandbox"
	"datalens/internal/schema"
	"datalens/internal/subquery"
	"datalens/internal/types"
)

// Config tunes the orchestrator.
type Config struct {
	TopKDatasources int
	Mismatch        policy.MismatchPolicy
	GlobalTimeout   time.Duration
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		TopKDatasources: 5,
		Mismatch:        policy.MismatchWarn,
		GlobalTimeout:   runtime.DefaultGlobalTimeout,
	}
}

// Orchestrator drives one user request through the top-level graph.
type Orchestrator struct {
	Registry  *adapter.Registry
	Schema    schema.Store
	Index     index.Index
	Artifacts *artifact.Store
	Breakers  *sandbox.Breakers
	LLM       *agents.Caller
	RBAC      *policy.RBAC
	Pipeline  *subquery.Pipeline
	Metrics   *metrics.Metrics
	Audit     *logging.AuditLogger

	cfg Config
}

// New wires an orchestrator.
func New(reg *adapter.Registry, store schema.Store, ix index.Index, artifacts *artifact.Store,
	breakers *sandbox.Breakers, llm *agents.Caller, rbac *policy.RBAC, pipeline *subquery.Pipeline,
	m *metrics.Metrics, audit *logging.AuditLogger, cfg Config) *Orchestrator {
	if cfg.TopKDatasources <= 0 {
		cfg.TopKDatasources = 5
	}
	if cfg.Mismatch == "" {
		cfg.Mismatch = policy.MismatchWarn
	}
	if cfg.GlobalTimeout <= 0 {
		cfg.GlobalTimeout = runtime.DefaultGlobalTimeout
	}
	return &Orchestrator{
		Registry: reg, Schema: store, Index: ix, Artifacts: artifacts,
		Breakers: breakers, LLM: llm, RBAC: rbac, Pipeline: pipeline,
		Metrics: m, Audit: audit, cfg: cfg,
	}
}

// UserRequest is one natural-language question with its caller identity.
type UserRequest struct {
	Query   string
	User    types.UserContext
	TraceID string
}

// Answer runs the full pipeline under the global deadline with cooperative
// cancellation, always returning a final state with a synthesized answer or
// a terminal error record.
func (o *Orchestrator) Answer(ctx context.Context, req UserRequest, flag *runtime.Flag) *GraphState {
	if req.TraceID == "" {
		req.TraceID = uuid.New().String()
	}
	ctx = logging.WithTrace(ctx, req.TraceID)
	if req.User.TenantID != "" {
		ctx = logging.WithTenant(ctx, req.User.TenantID)
	}

	o.Audit.LogEvent(logging.AuditPipelineStart, map[string]any{
		"query_length": len(req.Query),
		"roles":        req.User.Roles,
	}, req.TraceID, req.User.TenantID)

	state, terminal := runtime.Run(ctx, o.cfg.GlobalTimeout, flag, func(runCtx context.Context) *GraphState {
		return o.run(runCtx, req)
	})
	if terminal != nil {
		// Timed out or cancelled: no partial artifacts are promoted.
		state = &GraphState{TraceID: req.TraceID, UserQuery: req.Query, User: req.User}
		state.Errors = append(state.Errors, *terminal)
		answer := fallbackAnswer(state, nil, collectSafeFailures(state))
		state.Answer = &answer
	}

	o.Audit.LogEvent(logging.AuditPipelineEnd, map[string]any{
		"errors":    len(state.Errors),
		"artifacts": len(state.ArtifactRefs),
		"answered":  state.Answer != nil,
	}, req.TraceID, req.User.TenantID)
	return state
}

// run executes the node graph sequentially, fanning out inside the layer
// router. Node deltas merge through Reduce; critical errors short-circuit to
// synthesis.
func (o *Orchestrator) run(ctx context.Context, req UserRequest) *GraphState {
	log := logging.For(ctx, logging.CategoryOrchestrator)
	state := &GraphState{TraceID: req.TraceID, UserQuery: req.Query, User: req.User}

	Reduce(state, o.validateIntent(ctx, state))
	if state.HasCritical() || cancelled(ctx) {
		Reduce(state, o.synthesize(ctx, state))
		return state
	}

	Reduce(state, o.resolveDatasources(ctx, state))
	if len(state.ResolvedDatasources) == 0 || state.HasCritical() || cancelled(ctx) {
		Reduce(state, o.synthesize(ctx, state))
		return state
	}

	Reduce(state, o.decompose(ctx, state))
	if state.Decomposer == nil || len(state.Decomposer.SubQueries) == 0 || state.HasCritical() || cancelled(ctx) {
		Reduce(state, o.synthesize(ctx, state))
		return state
	}

	Reduce(state, o.planGlobal(ctx, state))
	if state.DAG == nil || state.HasCritical() || cancelled(ctx) {
		Reduce(state, o.synthesize(ctx, state))
		return state
	}

	// Layered fan-out: parallel within a layer, sequential across layers.
	for {
		if cancelled(ctx) {
			break
		}
		pending := nextScanLayer(state.DAG, state.ArtifactRefs)
		if len(pending) == 0 {
			break
		}
		before := len(state.ArtifactRefs)
		Reduce(state, o.runScanLayer(ctx, state, pending))
		if state.HasCritical() {
			break
		}
		if len(state.ArtifactRefs) == before {
			// The layer made no progress; its failures are already recorded.
			log.Warnw("scan layer produced no artifacts", "pending", len(pending))
			break
		}
	}

	if !cancelled(ctx) && !state.HasCritical() {
		Reduce(state, o.aggregate(ctx, state))
	}
	Reduce(state, o.synthesize(ctx, state))
	return state
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
