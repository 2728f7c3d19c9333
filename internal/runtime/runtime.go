// Package runtime hosts the pipeline scheduler: a global deadline, a
// cooperative cancellation flag, and a waiter that races completion against
// both. Nodes observe cancellation through the context at every suspension
// point.
package runtime

import (
	"context"
	"sync"
	"time"

	"datalens/internal/logging"
	"datalens/internal/types"
)

// Flag is the request-scoped cancellation flag. Signal-handler and keyboard
// cancel paths share one flag per request.
type Flag struct {
	once sync.Once
	ch   chan struct{}
}

// NewFlag builds an unset flag.
func NewFlag() *Flag {
	return &Flag{ch: make(chan struct{})}
}

// Cancel sets the flag. Idempotent.
func (f *Flag) Cancel() {
	f.once.Do(func() { close(f.ch) })
}

// Done exposes the flag for select loops.
func (f *Flag) Done() <-chan struct{} {
	return f.ch
}

// IsSet reports whether the flag has been set.
func (f *Flag) IsSet() bool {
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}

// DefaultGlobalTimeout bounds one pipeline invocation.
const DefaultGlobalTimeout = 60 * time.Second

// Run invokes fn under the global deadline with cooperative cancellation.
// The waiter observes three termination conditions in order: cancellation
// flag, wall-clock timeout, graph completion. On cancellation or timeout the
// result is discarded and a terminal error record is returned; fn's context
// is cancelled so in-flight nodes stop at their next suspension point.
func Run[T any](ctx context.Context, timeout time.Duration, flag *Flag, fn func(ctx context.Context) T) (T, *types.PipelineError) {
	var zero T
	if timeout <= 0 {
		timeout = DefaultGlobalTimeout
	}
	if flag == nil {
		flag = NewFlag()
	}
	log := logging.For(ctx, logging.CategoryRuntime)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan T, 1)
	go func() {
		resultCh <- fn(runCtx)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-flag.Done():
		cancel()
		log.Warnw("pipeline cancelled by caller")
		rec := types.NewCritical("runtime", types.ErrCancelled,
			"the request was cancelled; partial results were discarded")
		return zero, &rec

	case <-timer.C:
		cancel()
		log.Warnw("pipeline deadline exceeded", "timeout", timeout.String())
		rec := types.NewCritical("runtime", types.ErrPipelineTimeout,
			"the request exceeded its time budget; partial results were discarded")
		return zero, &rec

	case result := <-resultCh:
		// Completion may race a just-set flag; cancellation wins by the
		// declared observation order.
		if flag.IsSet() {
			rec := types.NewCritical("runtime", types.ErrCancelled,
				"the request was cancelled; partial results were discarded")
			return zero, &rec
		}
		return result, nil
	}
}

// SubmissionDeadline computes a sandbox submission's absolute budget:
// min(remaining global budget, statement timeout).
func SubmissionDeadline(ctx context.Context, statementTimeout time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < statementTimeout {
			return remaining
		}
	}
	return statementTimeout
}
