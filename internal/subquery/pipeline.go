package subquery

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"datalens/internal/adapter"
	"datalens/internal/agents"
	"datalens/internal/artifact"
	"datalens/internal/index"
	"datalens/internal/logging"
	"datalens/internal/metrics"
	"datalens/internal/policy"
	"datalens/internal/sandbox"
	"datalens/internal/schema"
	"datalens/internal/types"
)

// Config tunes the sub-pipeline.
type Config struct {
	// MaxRetries bounds planner→refiner iterations. Defaults to 3.
	MaxRetries int
	// TopKTables / TopKColumns size the retrieval calls.
	TopKTables  int
	TopKColumns int
	// StrictColumns escalates unknown-column findings from warnings to
	// blocking errors.
	StrictColumns bool
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, TopKTables: 5, TopKColumns: 10}
}

// Pipeline executes one sub-query end to end. One instance serves all
// concurrent sub-queries; per-run state lives on the stack.
type Pipeline struct {
	Registry *adapter.Registry
	Schema   schema.Store
	Index    index.Index
	Artifacts *artifact.Store
	Pools    *sandbox.Manager
	Breakers *sandbox.Breakers
	LLM      *agents.Caller
	RBAC     *policy.RBAC
	Metrics  *metrics.Metrics
	Audit    *logging.AuditLogger

	cfg Config

	// sleep and jitter are swappable in tests.
	sleep  func(time.Duration)
	jitter func() float64
}

// New wires a pipeline.
func New(reg *adapter.Registry, store schema.Store, ix index.Index, artifacts *artifact.Store,
	pools *sandbox.Manager, breakers *sandbox.Breakers, llm *agents.Caller, rbac *policy.RBAC,
	m *metrics.Metrics, audit *logging.AuditLogger, cfg Config) *Pipeline {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.TopKTables <= 0 {
		cfg.TopKTables = 5
	}
	if cfg.TopKColumns <= 0 {
		cfg.TopKColumns = 10
	}
	return &Pipeline{
		Registry: reg, Schema: store, Index: ix, Artifacts: artifacts,
		Pools: pools, Breakers: breakers, LLM: llm, RBAC: rbac,
		Metrics: m, Audit: audit, cfg: cfg,
		sleep:  time.Sleep,
		jitter: rand.Float64,
	}
}

// backoff computes the gate before retry n: min(10, 1*2^n) + U[0, 0.5)
// seconds.
func (p *Pipeline) backoff(count int) time.Duration {
	base := math.Min(10, math.Pow(2, float64(count)))
	jit := p.jitter() * 0.5
	return time.Duration((base + jit) * float64(time.Second))
}

// Run drives the state machine for one sub-query. It never returns an error:
// terminal failures are carried in the output's error list.
func (p *Pipeline) Run(ctx context.Context, req Request) Output {
	log := logging.For(ctx, logging.CategorySubquery)
	s := &state{req: req}
	subgraphID := fmt.Sprintf("%s:%s:%s", req.SubgraphName, req.SubQuery.ID, req.TraceID)

	// Schema retrieval happens once; the retry loop re-enters at planning.
	if errs := p.retrieveSchema(ctx, s); p.recordAndCheck(s, errs) {
		return p.finish(s, subgraphID)
	}
	s.phase = PhaseSchemaRetrieved

	feedback := ""
	for {
		if cancelled(ctx) {
			s.errors = append(s.errors, cancellationRecord(ctx))
			return p.finish(s, subgraphID)
		}

		nodeErrs := p.runPlanner(ctx, s, feedback)
		if len(nodeErrs) == 0 {
			s.phase = PhaseASTPlanned
			nodeErrs = p.validateLogical(ctx, s)
		}
		if len(types.Blocking(nodeErrs)) == 0 {
			p.recordWarnings(s, nodeErrs)
			s.phase = PhaseLogicallyValid
			nodeErrs = p.generateSQL(ctx, s)
		}
		if len(nodeErrs) == 0 {
			s.phase = PhaseSQLGenerated
			nodeErrs = p.validatePhysical(ctx, s)
		}
		if len(types.Blocking(nodeErrs)) == 0 {
			p.recordWarnings(s, nodeErrs)
			s.phase = PhasePhysicallyValid

			// Executor errors are terminal: the retry loop covers planning
			// and validation only.
			execErrs := p.execute(ctx, s)
			if p.recordAndCheck(s, execErrs) {
				return p.finish(s, subgraphID)
			}
			s.phase = PhaseExecuted
			return p.finish(s, subgraphID)
		}

		blocking := types.Blocking(nodeErrs)

		// Route: retry_handler → refiner → ast_planner, or terminate.
		s.errors = append(s.errors, blocking...)
		for _, e := range blocking {
			p.Metrics.CountError(e.Node, string(e.Code))
		}
		if !types.AllRetryable(blocking) || s.retryCount >= p.cfg.MaxRetries {
			if s.retryCount >= p.cfg.MaxRetries {
				log.Warnw("retry ceiling reached", "sub_query", req.SubQuery.ID, "retries", s.retryCount)
			}
			return p.finish(s, subgraphID)
		}

		delay := p.backoff(s.retryCount)
		log.Debugw("retrying sub-pipeline", "sub_query", req.SubQuery.ID,
			"retry", s.retryCount+1, "backoff", delay.String())
		if !sleepOrCancel(ctx, p.sleep, delay) {
			s.errors = append(s.errors, cancellationRecord(ctx))
			return p.finish(s, subgraphID)
		}
		feedback = p.refine(s, blocking)
		s.retryCount++
	}
}

// recordAndCheck appends errors; reports true when any blocking error exists.
func (p *Pipeline) recordAndCheck(s *state, errs []types.PipelineError) bool {
	s.errors = append(s.errors, errs...)
	for _, e := range errs {
		p.Metrics.CountError(e.Node, string(e.Code))
	}
	return len(types.Blocking(errs)) > 0
}

// recordWarnings keeps non-blocking findings visible in the output.
func (p *Pipeline) recordWarnings(s *state, errs []types.PipelineError) {
	for _, e := range errs {
		if e.Severity == types.SeverityWarning {
			s.errors = append(s.errors, e)
		}
	}
}

func (p *Pipeline) finish(s *state, subgraphID string) Output {
	status := types.SubgraphSuccess
	if s.phase != PhaseExecuted {
		s.phase = PhaseFailed
		status = types.SubgraphError
	}
	return Output{
		SubQuery:     s.req.SubQuery,
		SubgraphID:   subgraphID,
		SubgraphName: s.req.SubgraphName,
		RetryCount:   s.retryCount,
		Plan:         s.plan,
		SQLDraft:     s.sqlDraft,
		Artifact:     s.artifact,
		Errors:       s.errors,
		Reasoning:    s.reasoning,
		Status:       status,
	}
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// sleepOrCancel honors cancellation during the backoff gate. The injected
// sleeper runs in a goroutine so tests with instant sleepers stay fast.
func sleepOrCancel(ctx context.Context, sleep func(time.Duration), d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		sleep(d)
		close(done)
	}()
	select {
	case <-done:
		return ctx.Err() == nil
	case <-ctx.Done():
		return false
	}
}
