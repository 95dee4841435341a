// Package poolmgr orchestrates multiple worker pools by poolId: creation
// with validated configs, task routing, aggregate metrics, and shutdown
// propagation.
package poolmgr

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/corectl/supervisor/internal/errs"
	"github.com/corectl/supervisor/internal/pool"
)

// Manager owns all pools.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*pool.Pool
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{pools: make(map[string]*pool.Pool)}
}

// CreatePool validates cfg, constructs the pool, starts it, and registers
// it under its poolId.
func (m *Manager) CreatePool(ctx context.Context, cfg pool.Config) (*pool.Pool, error) {
	p, err := pool.New(cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.pools[p.ID()]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: pool id %q already exists", errs.ErrSupervisionConfig, p.ID())
	}
	m.pools[p.ID()] = p
	m.mu.Unlock()

	p.Start(ctx)
	return p, nil
}

// RemovePool shuts the pool down (draining up to timeout) and forgets it.
func (m *Manager) RemovePool(poolID string, timeout time.Duration) error {
	m.mu.Lock()
	p, ok := m.pools[poolID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", errs.ErrPoolNotFound, poolID)
	}
	delete(m.pools, poolID)
	m.mu.Unlock()

	p.Shutdown(timeout)
	return nil
}

// GetPool looks a pool up by id.
func (m *Manager) GetPool(poolID string) (*pool.Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[poolID]
	return p, ok
}

// Pools returns all registered pools.
func (m *Manager) Pools() []*pool.Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*pool.Pool, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	return out
}

// SubmitTask routes a task to the named pool.
func (m *Manager) SubmitTask(poolID string, t pool.Task) (string, error) {
	p, ok := m.GetPool(poolID)
	if !ok {
		return "", fmt.Errorf("%w: %q", errs.ErrPoolNotFound, poolID)
	}
	return p.Submit(t)
}

// AggregateMetrics sums metrics across all pools.
func (m *Manager) AggregateMetrics() pool.Metrics {
	var agg pool.Metrics
	var durWeighted time.Duration
	pools := m.Pools()
	for _, p := range pools {
		pm := p.Metrics()
		agg.TotalWorkers += pm.TotalWorkers
		agg.IdleWorkers += pm.IdleWorkers
		agg.BusyWorkers += pm.BusyWorkers
		agg.QueuedTasks += pm.QueuedTasks
		agg.RunningTasks += pm.RunningTasks
		agg.CompletedTasks += pm.CompletedTasks
		agg.TotalProcessed += pm.TotalProcessed
		agg.TotalCompleted += pm.TotalCompleted
		agg.TotalFailed += pm.TotalFailed
		agg.ThroughputPerSecond += pm.ThroughputPerSecond
		durWeighted += pm.AverageTaskDuration * time.Duration(pm.TotalProcessed)
	}
	if agg.TotalProcessed > 0 {
		agg.AverageTaskDuration = durWeighted / time.Duration(agg.TotalProcessed)
	}
	if agg.TotalWorkers > 0 {
		agg.WorkerUtilization = float64(agg.BusyWorkers) / float64(agg.TotalWorkers)
	}
	return agg
}

// Shutdown drains and terminates every pool.
func (m *Manager) Shutdown(timeout time.Duration) {
	for _, p := range m.Pools() {
		p.Shutdown(timeout)
	}
	m.mu.Lock()
	m.pools = make(map[string]*pool.Pool)
	m.mu.Unlock()
}

// Workload hints for OptimalSizing.
const (
	WorkloadCPUIntensive = "cpu-intensive"
	WorkloadIOBound      = "io-bound"
	WorkloadMixed        = "mixed"
	WorkloadLightweight  = "lightweight"
)

// Sizing is the derived worker-count recommendation.
type Sizing struct {
	MinWorkers     int
	MaxWorkers     int
	InitialWorkers int
}

// OptimalSizing derives pool bounds from the host CPU count and a
// workload hint.
func OptimalSizing(workload string) Sizing {
	cpus := runtime.NumCPU()
	var s Sizing
	switch workload {
	case WorkloadCPUIntensive:
		s = Sizing{MinWorkers: 1, MaxWorkers: cpus, InitialWorkers: cpus / 2}
	case WorkloadIOBound:
		s = Sizing{MinWorkers: 2, MaxWorkers: cpus * 4, InitialWorkers: cpus}
	case WorkloadLightweight:
		s = Sizing{MinWorkers: 1, MaxWorkers: cpus * 8, InitialWorkers: 2}
	default: // mixed
		s = Sizing{MinWorkers: 1, MaxWorkers: cpus * 2, InitialWorkers: cpus}
	}
	if s.InitialWorkers < s.MinWorkers {
		s.InitialWorkers = s.MinWorkers
	}
	if s.InitialWorkers > s.MaxWorkers {
		s.InitialWorkers = s.MaxWorkers
	}
	return s
}
