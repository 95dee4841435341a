package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corectl/supervisor/internal/platform"
)

func TestRingBufferEviction(t *testing.T) {
	adapter := platform.NewMockAdapter(nil)
	c := NewCollector(adapter, time.Second, 3)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := c.Sample(ctx)
		require.NoError(t, err)
	}

	hist := c.History()
	assert.Len(t, hist, 3, "oldest samples evicted on overflow")
	for i := 1; i < len(hist); i++ {
		assert.False(t, hist[i].Timestamp.Before(hist[i-1].Timestamp), "oldest first")
	}

	latest, ok := c.Latest()
	require.True(t, ok)
	assert.Equal(t, hist[len(hist)-1].Timestamp, latest.Timestamp)
}

func TestAggregateAverageWithinTolerance(t *testing.T) {
	adapter := platform.NewMockAdapter(nil)
	c := NewCollector(adapter, time.Second, 10)

	ctx := context.Background()
	start := time.Now().Add(-time.Second)
	var sum float64
	for i := 0; i < 5; i++ {
		m, err := c.Sample(ctx)
		require.NoError(t, err)
		sum += m.CPUPercent
	}

	agg, err := c.Aggregate(start, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 5, agg.SampleCount)
	assert.InDelta(t, sum/5, agg.CPUAvg, 1e-9)
	assert.LessOrEqual(t, agg.CPUMin, agg.CPUAvg)
	assert.GreaterOrEqual(t, agg.CPUMax, agg.CPUAvg)
}

func TestAggregateFailsWithNoSamples(t *testing.T) {
	c := NewCollector(platform.NewMockAdapter(nil), time.Second, 10)
	_, err := c.Aggregate(time.Now().Add(-time.Hour), time.Now().Add(-time.Minute))
	assert.Error(t, err)
}

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	// Helpers must not panic once registered.
	IncLifecycleEvent("discovered")
	RecordHealthCheck("processExists", "healthy", 0.01)
	RecordRestartAttempt("exit", true)
	SetPoolWorkers("batch", "idle", 2)
}
