// Package sandbox isolates unsafe operations (SQL execution, schema
// introspection) behind two bounded worker pools and guards downstream
// subsystems with circuit breakers.
package sandbox

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"datalens/internal/logging"
	"datalens/internal/types"
)

// ExecutionMode selects the operation a submission performs.
type ExecutionMode string

const (
	ModeExecute      ExecutionMode = "execute"
	ModeDryRun       ExecutionMode = "dry_run"
	ModeCostEstimate ExecutionMode = "cost_estimate"
	ModeFetchSchema  ExecutionMode = "fetch_schema"
)

// ExecutionRequest is the self-contained payload handed to a worker.
type ExecutionRequest struct {
	Mode         ExecutionMode  `json:"mode"`
	DatasourceID string         `json:"datasource_id"`
	EngineType   string         `json:"engine_type"`
	SQL          string         `json:"sql,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Limits       types.Limits   `json:"limits"`
	TraceID      string         `json:"trace_id,omitempty"`
}

// ExecutionResult is the standardized worker response. Infrastructure
// failures (timeouts, crashes) are folded in; Submit never returns an error.
type ExecutionResult struct {
	Success bool               `json:"success"`
	Data    any                `json:"data,omitempty"`
	Error   string             `json:"error,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// WorkFn is the operation a submission runs inside the pool.
type WorkFn func(ctx context.Context, req ExecutionRequest) ExecutionResult

// Pool is a bounded worker pool. Submissions queue when all workers are
// busy; queued submissions still count against their deadline. Worker
// panics are contained and translated into crash results.
type Pool struct {
	name    string
	slots   *semaphore.Weighted
	workers int

	mu       sync.Mutex
	draining bool
	pending  sync.WaitGroup
}

// Default pool sizes.
const (
	DefaultExecWorkers  = 4
	DefaultIndexWorkers = 2
)

// NewPool builds a pool with the given concurrency.
func NewPool(name string, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	logging.Get(logging.CategorySandbox).Infow("sandbox pool initialized", "pool", name, "workers", workers)
	return &Pool{name: name, slots: semaphore.NewWeighted(int64(workers)), workers: workers}
}

// Submit runs fn under the pool's concurrency bound with a hard deadline.
// The result is always well-formed: timeouts, cancellation, shutdown, and
// worker crashes all come back as failed ExecutionResults.
func (p *Pool) Submit(ctx context.Context, req ExecutionRequest, timeout time.Duration, fn WorkFn) ExecutionResult {
	log := logging.For(ctx, logging.CategorySandbox)

	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return ExecutionResult{Success: false, Error: "sandbox pool is shutting down"}
	}
	p.pending.Add(1)
	p.mu.Unlock()
	defer p.pending.Done()

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Queue for a worker slot; waiting burns the same deadline.
	if err := p.slots.Acquire(deadlineCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ExecutionResult{Success: false, Error: "submission cancelled while queued"}
		}
		return ExecutionResult{
			Success: false,
			Error:   fmt.Sprintf("operation timed out after %s waiting for a sandbox worker", timeout),
			Metrics: map[string]float64{"execution_time_ms": float64(timeout.Milliseconds())},
		}
	}

	resultCh := make(chan ExecutionResult, 1)
	start := time.Now()
	go func() {
		defer p.slots.Release(1)
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorw("sandbox worker crashed", "pool", p.name, "panic", fmt.Sprint(rec),
					"stack", string(debug.Stack()))
				resultCh <- ExecutionResult{
					Success: false,
					Error:   fmt.Sprintf("SANDBOX CRASH: the worker terminated abruptly (%v)", rec),
					Metrics: map[string]float64{"is_crash": 1},
				}
			}
		}()
		resultCh <- fn(deadlineCtx, req)
	}()

	select {
	case res := <-resultCh:
		if res.Metrics == nil {
			res.Metrics = map[string]float64{}
		}
		if _, ok := res.Metrics["execution_time_ms"]; !ok {
			res.Metrics["execution_time_ms"] = float64(time.Since(start).Milliseconds())
		}
		return res
	case <-deadlineCtx.Done():
		// The worker keeps its slot until it returns; its result is dropped.
		if ctx.Err() != nil {
			return ExecutionResult{Success: false, Error: "submission cancelled"}
		}
		return ExecutionResult{
			Success: false,
			Error:   fmt.Sprintf("operation timed out after %s; the worker may be hung", timeout),
			Metrics: map[string]float64{"execution_time_ms": float64(timeout.Milliseconds())},
		}
	}
}

// Shutdown stops accepting submissions and waits for pending ones.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.draining = true
	p.mu.Unlock()
	p.pending.Wait()
	logging.Get(logging.CategorySandbox).Infow("sandbox pool drained", "pool", p.name)
}

// Manager owns the two process-wide pools.
type Manager struct {
	Interactive *Pool
	Indexing    *Pool
}

// NewManager builds the interactive and indexing pools. Zero worker counts
// select the defaults (4 and 2).
func NewManager(execWorkers, indexWorkers int) *Manager {
	if execWorkers <= 0 {
		execWorkers = DefaultExecWorkers
	}
	if indexWorkers <= 0 {
		indexWorkers = DefaultIndexWorkers
	}
	return &Manager{
		Interactive: NewPool("interactive", execWorkers),
		Indexing:    NewPool("indexing", indexWorkers),
	}
}

// Shutdown drains both pools, waiting for pending submissions.
func (m *Manager) Shutdown() {
	m.Interactive.Shutdown()
	m.Indexing.Shutdown()
}

// IsCrash reports whether a result represents a worker crash.
func IsCrash(res ExecutionResult) bool {
	return res.Metrics != nil && res.Metrics["is_crash"] == 1
}
