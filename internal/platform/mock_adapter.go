package platform

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/corectl/supervisor/internal/errs"
)

// MockAdapter generates synthetic process and system data. Used on
// unsupported hosts, in tests, and whenever platformAdapter is set to
// "mock" explicitly.
type MockAdapter struct {
	mu        sync.Mutex
	processes map[int32]ProcessInfo
	killed    map[int32]Signal
	rng       *rand.Rand
}

// NewMockAdapter returns an adapter seeded with the given processes.
func NewMockAdapter(seed []ProcessInfo) *MockAdapter {
	m := &MockAdapter{
		processes: make(map[int32]ProcessInfo, len(seed)),
		killed:    make(map[int32]Signal),
		rng:       rand.New(rand.NewSource(1)),
	}
	for _, p := range seed {
		if p.StartTime.IsZero() {
			p.StartTime = time.Now()
		}
		if p.Status == "" {
			p.Status = StatusRunning
		}
		m.processes[p.PID] = p
	}
	return m
}

func (m *MockAdapter) Name() string { return "mock" }

// Seed adds or replaces a process, as if it appeared on the host.
func (m *MockAdapter) Seed(p ProcessInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.StartTime.IsZero() {
		p.StartTime = time.Now()
	}
	if p.Status == "" {
		p.Status = StatusRunning
	}
	m.processes[p.PID] = p
}

// Remove makes a process disappear, as if it exited.
func (m *MockAdapter) Remove(pid int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processes, pid)
}

// SetCPU updates the synthetic CPU reading for a pid, used to drive
// sustained-threshold health check tests.
func (m *MockAdapter) SetCPU(pid int32, cpu float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.processes[pid]; ok {
		p.CPU = cpu
		m.processes[pid] = p
	}
}

func (m *MockAdapter) GetProcessList(_ context.Context) ([]ProcessInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProcessInfo, 0, len(m.processes))
	for _, p := range m.processes {
		out = append(out, p)
	}
	return out, nil
}

func (m *MockAdapter) GetProcessInfo(_ context.Context, pid int32) (ProcessInfo, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.processes[pid]
	return p, ok, nil
}

func (m *MockAdapter) GetSystemMetrics(_ context.Context) (SystemMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SystemMetrics{
		Timestamp:      time.Now(),
		CPUPercent:     m.rng.Float64() * 100,
		PerCorePercent: []float64{m.rng.Float64() * 100, m.rng.Float64() * 100},
		LoadAvg1:       m.rng.Float64() * 2,
		LoadAvg5:       m.rng.Float64() * 2,
		LoadAvg15:      m.rng.Float64() * 2,
		MemoryTotal:    16 << 30,
		MemoryUsed:     uint64(m.rng.Int63n(16 << 30)),
		DiskReadBytes:  uint64(m.rng.Int63n(1 << 20)),
		DiskWriteBytes: uint64(m.rng.Int63n(1 << 20)),
	}, nil
}

func (m *MockAdapter) KillProcess(_ context.Context, pid int32, sig Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processes[pid]; !ok {
		return fmt.Errorf("%w: mock: pid %d not found", errs.ErrAdapterFailure, pid)
	}
	m.killed[pid] = sig
	switch sig {
	case SignalTerm, SignalKill:
		delete(m.processes, pid)
	case SignalStop:
		p := m.processes[pid]
		p.Status = StatusStopping
		m.processes[pid] = p
	case SignalCont:
		p := m.processes[pid]
		p.Status = StatusRunning
		m.processes[pid] = p
	}
	return nil
}

func (m *MockAdapter) SuspendProcess(ctx context.Context, pid int32) error {
	return m.KillProcess(ctx, pid, SignalStop)
}

func (m *MockAdapter) ResumeProcess(ctx context.Context, pid int32) error {
	return m.KillProcess(ctx, pid, SignalCont)
}

// LastSignal reports the last signal sent to pid, for test assertions.
func (m *MockAdapter) LastSignal(pid int32) (Signal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.killed[pid]
	return s, ok
}
