// Package monitor glues health checks and the auto-restart engine to the
// process registry. It owns per-supervised-process health state and the
// global check tick.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/corectl/supervisor/internal/errs"
	"github.com/corectl/supervisor/internal/health"
	"github.com/corectl/supervisor/internal/registry"
	"github.com/corectl/supervisor/internal/restart"
)

// Dispatcher is the narrow restart capability the monitor holds instead of
// the concrete engine, breaking the monitor <-> engine cycle.
type Dispatcher interface {
	Decide(ctx context.Context, registryID string, pid int32, cfg restart.Config, reason restart.Reason) (*restart.Attempt, error)
}

// Config tunes the monitor's tick cadence and hysteresis thresholds.
type Config struct {
	GlobalInterval     time.Duration
	HealthyThreshold   int
	UnhealthyThreshold int
}

// DefaultConfig uses a 5s tick and 2/2 hysteresis.
func DefaultConfig() Config {
	return Config{
		GlobalInterval:     5 * time.Second,
		HealthyThreshold:   2,
		UnhealthyThreshold: 2,
	}
}

// SupervisionConfig is everything installed per supervised process.
type SupervisionConfig struct {
	Checks      []health.Check
	AutoRestart restart.Config
}

// HealthState is the per-supervised-process state (ProcessHealthState).
type HealthState struct {
	RegistryID           string
	OverallStatus        health.Status
	LastHealthCheck      time.Time
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	TotalHealthChecks    int64
	TotalFailures        int64
	LastKnownGoodState   time.Time
	RecentResults        []health.Result // capped at maxRecentResults, oldest first
	IsUnderSupervision   bool
}

const maxRecentResults = 1000

// supervised is the internal mutable record behind one HealthState.
type supervised struct {
	cfg   SupervisionConfig
	state HealthState
}

// Monitor runs health checks for supervised processes and dispatches
// restarts on sustained failure.
type Monitor struct {
	cfg        Config
	reg        *registry.Registry
	runner     *health.Runner
	dispatcher Dispatcher

	mu        sync.Mutex
	processes map[string]*supervised

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Monitor. dispatcher may be nil, in which case failures
// are recorded but never dispatched.
func New(cfg Config, reg *registry.Registry, runner *health.Runner, dispatcher Dispatcher) *Monitor {
	if cfg.GlobalInterval <= 0 {
		cfg.GlobalInterval = DefaultConfig().GlobalInterval
	}
	if cfg.HealthyThreshold <= 0 {
		cfg.HealthyThreshold = 1
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = 1
	}
	return &Monitor{
		cfg:        cfg,
		reg:        reg,
		runner:     runner,
		dispatcher: dispatcher,
		processes:  make(map[string]*supervised),
	}
}

// Supervise installs checks for registryID. Fails if the process is not
// registered or any check config is invalid.
func (m *Monitor) Supervise(registryID string, cfg SupervisionConfig) error {
	if _, ok := m.reg.Get(registryID); !ok {
		return fmt.Errorf("%w: registryId %q", errs.ErrProcessNotFound, registryID)
	}
	for _, c := range cfg.Checks {
		if err := c.Validate(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.processes[registryID] = &supervised{
		cfg: cfg,
		state: HealthState{
			RegistryID:         registryID,
			OverallStatus:      health.StatusUnknown,
			IsUnderSupervision: true,
		},
	}
	return nil
}

// Unsupervise removes registryID from supervision. Idempotent.
func (m *Monitor) Unsupervise(registryID string) {
	m.mu.Lock()
	delete(m.processes, registryID)
	m.mu.Unlock()
}

// State returns a copy of the current HealthState for registryID.
func (m *Monitor) State(registryID string) (HealthState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.processes[registryID]
	if !ok {
		return HealthState{}, false
	}
	return copyState(&s.state), true
}

func copyState(s *HealthState) HealthState {
	cp := *s
	cp.RecentResults = append([]health.Result(nil), s.RecentResults...)
	return cp
}

// Tick runs one global pass over all supervised processes. Checks run
// independently per process; one failing process never prevents others
// from being checked.
func (m *Monitor) Tick(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.processes))
	for id := range m.processes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.checkOne(ctx, id)
	}
}

// TriggerHealthCheck runs the installed checks for registryID immediately,
// outside the global cadence, and returns the results.
func (m *Monitor) TriggerHealthCheck(ctx context.Context, registryID string) ([]health.Result, error) {
	m.mu.Lock()
	_, ok := m.processes[registryID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: registryId %q not under supervision", errs.ErrProcessNotFound, registryID)
	}
	return m.checkOne(ctx, registryID), nil
}

func (m *Monitor) checkOne(ctx context.Context, registryID string) []health.Result {
	proc, ok := m.reg.Get(registryID)
	if !ok {
		// The process disappeared from the registry: stop supervising.
		m.Unsupervise(registryID)
		return nil
	}

	m.mu.Lock()
	s, ok := m.processes[registryID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	checks := append([]health.Check(nil), s.cfg.Checks...)
	autoRestart := s.cfg.AutoRestart
	m.mu.Unlock()

	results := make([]health.Result, 0, len(checks))
	for _, c := range checks {
		if !c.Enabled {
			continue
		}
		results = append(results, m.runner.Run(ctx, registryID, proc.ProcessInfo, c))
	}
	if len(results) == 0 {
		return nil
	}

	newStatus := combineStatuses(results)
	now := time.Now()

	m.mu.Lock()
	s, ok = m.processes[registryID]
	if !ok {
		m.mu.Unlock()
		return results
	}
	st := &s.state
	st.LastHealthCheck = now
	st.TotalHealthChecks++
	st.RecentResults = append(st.RecentResults, results...)
	if n := len(st.RecentResults); n > maxRecentResults {
		st.RecentResults = st.RecentResults[n-maxRecentResults:]
	}

	if newStatus == health.StatusHealthy {
		st.ConsecutiveSuccesses++
		st.ConsecutiveFailures = 0
		st.LastKnownGoodState = now
		if st.ConsecutiveSuccesses >= m.cfg.HealthyThreshold {
			st.OverallStatus = health.StatusHealthy
		}
	} else {
		st.ConsecutiveFailures++
		st.ConsecutiveSuccesses = 0
		st.TotalFailures++
		if st.ConsecutiveFailures >= m.cfg.UnhealthyThreshold {
			st.OverallStatus = newStatus
		}
	}
	overall := st.OverallStatus
	m.mu.Unlock()

	m.syncManaged(registryID, overall, now)

	if overall != health.StatusHealthy && overall != health.StatusUnknown &&
		autoRestart.Enabled && autoRestart.RestartOnHealthCheckFailure && m.dispatcher != nil {
		reason := failureReasons(results)
		if _, err := m.dispatcher.Decide(ctx, registryID, proc.PID, autoRestart, restart.ReasonHealthCheckFailure); err != nil {
			slog.Warn("restart dispatch failed", "registryId", registryID, "reason", reason, "error", err)
		}
	}
	return results
}

// syncManaged mirrors the latest outcome into the registry's
// ManagedProcess bookkeeping, when the process is managed.
func (m *Monitor) syncManaged(registryID string, overall health.Status, now time.Time) {
	_ = m.reg.MutateManaged(registryID, func(mp *registry.ManagedProcess) {
		mp.IsHealthy = overall == health.StatusHealthy
		mp.LastHealthCheck = now
		if overall != health.StatusHealthy && overall != health.StatusUnknown {
			mp.HealthCheckFailures++
		}
	})
}

// combineStatuses folds per-check results into one status: any error wins,
// then unhealthy/timeout, then all-healthy, else unknown.
func combineStatuses(results []health.Result) health.Status {
	anyError := false
	anyUnhealthy := false
	allHealthy := true
	for _, r := range results {
		switch r.Status {
		case health.StatusError:
			anyError = true
			allHealthy = false
		case health.StatusUnhealthy, health.StatusTimeout:
			anyUnhealthy = true
			allHealthy = false
		case health.StatusHealthy:
		default:
			allHealthy = false
		}
	}
	switch {
	case anyError:
		return health.StatusError
	case anyUnhealthy:
		return health.StatusUnhealthy
	case allHealthy:
		return health.StatusHealthy
	default:
		return health.StatusUnknown
	}
}

func failureReasons(results []health.Result) string {
	var parts []string
	for _, r := range results {
		if r.Status == health.StatusHealthy {
			continue
		}
		if r.Message != "" {
			parts = append(parts, fmt.Sprintf("%s: %s (%s)", r.Type, r.Status, r.Message))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", r.Type, r.Status))
		}
	}
	return strings.Join(parts, "; ")
}

// Start launches the global tick loop. Stop cancels it.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.GlobalInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the tick loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}
