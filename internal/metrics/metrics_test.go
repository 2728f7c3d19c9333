package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	m := New()
	m.CountTokens("decomposer", "gemini-2.5-flash", "manufacturing", 100, 40)
	m.CountTokens("decomposer", "gemini-2.5-flash", "manufacturing", 10, 5)

	prompt := testutil.ToFloat64(m.llmTokens.WithLabelValues("decomposer", "gemini-2.5-flash", "manufacturing", "prompt"))
	completion := testutil.ToFloat64(m.llmTokens.WithLabelValues("decomposer", "gemini-2.5-flash", "manufacturing", "completion"))
	total := testutil.ToFloat64(m.llmTokens.WithLabelValues("decomposer", "gemini-2.5-flash", "manufacturing", "total"))

	assert.Equal(t, 110.0, prompt)
	assert.Equal(t, 45.0, completion)
	assert.Equal(t, 155.0, total)
}

func TestObserveNodeDuration(t *testing.T) {
	m := New()
	m.ObserveNodeDuration("executor", "manufacturing", 25*time.Millisecond)
	stop := m.TimeNode("executor", "manufacturing")
	stop()

	count := testutil.CollectAndCount(m.nodeDuration)
	assert.Equal(t, 1, count) // one label combination

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "datalens_node_duration_seconds" {
			found = true
			require.Len(t, f.GetMetric(), 1)
			assert.EqualValues(t, 2, f.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
	assert.True(t, found)
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveNodeDuration("n", "", time.Second)
	m.CountTokens("a", "m", "", 1, 1)
	m.CountError("n", "X")
}
