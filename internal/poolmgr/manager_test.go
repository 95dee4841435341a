package poolmgr

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corectl/supervisor/internal/errs"
	"github.com/corectl/supervisor/internal/pool"
)

func testPoolConfig(name string) pool.Config {
	return pool.Config{
		Name:                name,
		MinWorkers:          1,
		MaxWorkers:          2,
		MaxQueueSize:        10,
		HealthCheckInterval: time.Hour,
		WorkerIdleTimeout:   time.Hour,
	}
}

func TestCreateSubmitRemove(t *testing.T) {
	ctx := context.Background()
	m := New()

	p, err := m.CreatePool(ctx, testPoolConfig("alpha"))
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown(time.Second) })

	id, err := m.SubmitTask(p.ID(), pool.Task{Command: "true"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = m.SubmitTask("nope", pool.Task{Command: "true"})
	assert.ErrorIs(t, err, errs.ErrPoolNotFound)

	require.NoError(t, m.RemovePool(p.ID(), time.Second))
	assert.ErrorIs(t, m.RemovePool(p.ID(), time.Second), errs.ErrPoolNotFound)
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	m := New()
	cfg := testPoolConfig("bad")
	cfg.MaxQueueSize = 0
	_, err := m.CreatePool(context.Background(), cfg)
	assert.Error(t, err)
}

func TestAggregateMetrics(t *testing.T) {
	ctx := context.Background()
	m := New()
	t.Cleanup(func() { m.Shutdown(time.Second) })

	_, err := m.CreatePool(ctx, testPoolConfig("a"))
	require.NoError(t, err)
	_, err = m.CreatePool(ctx, testPoolConfig("b"))
	require.NoError(t, err)

	agg := m.AggregateMetrics()
	assert.Equal(t, 2, agg.TotalWorkers, "one initial worker per pool")
}

func TestOptimalSizing(t *testing.T) {
	cpus := runtime.NumCPU()
	for _, hint := range []string{WorkloadCPUIntensive, WorkloadIOBound, WorkloadMixed, WorkloadLightweight} {
		s := OptimalSizing(hint)
		assert.GreaterOrEqual(t, s.MinWorkers, 1, hint)
		assert.GreaterOrEqual(t, s.MaxWorkers, s.MinWorkers, hint)
		assert.GreaterOrEqual(t, s.InitialWorkers, s.MinWorkers, hint)
		assert.LessOrEqual(t, s.InitialWorkers, s.MaxWorkers, hint)
	}
	assert.Equal(t, cpus, OptimalSizing(WorkloadCPUIntensive).MaxWorkers)
}
