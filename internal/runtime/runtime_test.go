package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens/internal/types"
)

func TestRunCompletes(t *testing.T) {
	result, terminal := Run(t.Context(), time.Second, nil, func(ctx context.Context) string {
		return "done"
	})
	require.Nil(t, terminal)
	assert.Equal(t, "done", result)
}

func TestRunTimeout(t *testing.T) {
	started := make(chan struct{})
	var sawCancel bool
	done := make(chan struct{})

	_, terminal := Run(t.Context(), 30*time.Millisecond, nil, func(ctx context.Context) string {
		close(started)
		select {
		case <-ctx.Done():
			sawCancel = true
		case <-time.After(time.Second):
		}
		close(done)
		return "late"
	})
	require.NotNil(t, terminal)
	assert.Equal(t, types.ErrPipelineTimeout, terminal.Code)
	assert.Equal(t, types.SeverityCritical, terminal.Severity)

	<-started
	<-done
	assert.True(t, sawCancel, "in-flight work must observe cancellation")
}

func TestRunCancellation(t *testing.T) {
	flag := NewFlag()
	go func() {
		time.Sleep(20 * time.Millisecond)
		flag.Cancel()
	}()

	_, terminal := Run(t.Context(), time.Second, flag, func(ctx context.Context) string {
		<-ctx.Done()
		return "interrupted"
	})
	require.NotNil(t, terminal)
	assert.Equal(t, types.ErrCancelled, terminal.Code)
}

func TestFlagIdempotent(t *testing.T) {
	flag := NewFlag()
	assert.False(t, flag.IsSet())
	flag.Cancel()
	flag.Cancel()
	assert.True(t, flag.IsSet())
}

func TestCancellationWinsOverCompletion(t *testing.T) {
	flag := NewFlag()
	flag.Cancel()
	_, terminal := Run(t.Context(), time.Second, flag, func(ctx context.Context) string {
		return "instant"
	})
	require.NotNil(t, terminal)
	assert.Equal(t, types.ErrCancelled, terminal.Code)
}

func TestSubmissionDeadline(t *testing.T) {
	// Without a context deadline, the statement timeout rules.
	d := SubmissionDeadline(t.Context(), 5*time.Second)
	assert.Equal(t, 5*time.Second, d)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	d = SubmissionDeadline(ctx, 5*time.Second)
	assert.LessOrEqual(t, d, 50*time.Millisecond)
}
