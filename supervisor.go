// Package supervisor is the single entry point to the process supervision
// core: registry-backed process tracking, health checks with auto-restart,
// worker pools, and system metrics, all behind one facade.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/corectl/supervisor/internal/config"
	"github.com/corectl/supervisor/internal/errs"
	"github.com/corectl/supervisor/internal/health"
	"github.com/corectl/supervisor/internal/history"
	"github.com/corectl/supervisor/internal/ipc"
	"github.com/corectl/supervisor/internal/metrics"
	"github.com/corectl/supervisor/internal/monitor"
	"github.com/corectl/supervisor/internal/platform"
	"github.com/corectl/supervisor/internal/pool"
	"github.com/corectl/supervisor/internal/poolmgr"
	"github.com/corectl/supervisor/internal/registry"
	"github.com/corectl/supervisor/internal/regsync"
	"github.com/corectl/supervisor/internal/restart"
	storefactory "github.com/corectl/supervisor/internal/store/factory"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type (
	Config            = config.Config
	ProcessInfo       = platform.ProcessInfo
	SystemMetrics     = platform.SystemMetrics
	Signal            = platform.Signal
	RegistryProcess   = registry.RegistryProcess
	LifecycleEvent    = registry.LifecycleEvent
	ManagementConfig  = registry.ManagementConfig
	Query             = registry.Query
	EventQuery        = registry.EventQuery
	ProcessSnapshot   = registry.ProcessSnapshot
	HealthCheck       = health.Check
	HealthResult      = health.Result
	HealthState       = monitor.HealthState
	SupervisionConfig = monitor.SupervisionConfig
	RestartConfig     = restart.Config
	RestartAttempt    = restart.Attempt
	PoolConfig        = pool.Config
	PoolTask          = pool.Task
	PoolMetrics       = pool.Metrics
	IPCMessage        = ipc.Message
	IPCResponse       = ipc.Response
	IPCConnection     = ipc.Connection
)

// Option overrides one construction default.
type Option func(*Supervisor)

// WithAdapter substitutes the platform adapter, bypassing the selection
// policy. Used by tests and embedders with custom adapters.
func WithAdapter(a platform.Adapter) Option {
	return func(s *Supervisor) { s.adapter = a }
}

// WithStore substitutes the registry's persistence backend.
func WithStore(st registry.Store) Option {
	return func(s *Supervisor) { s.store = st }
}

// WithHistorySink adds a lifecycle-event export sink.
func WithHistorySink(sink history.Sink) Option {
	return func(s *Supervisor) { s.sinks = append(s.sinks, sink) }
}

// WithRestartStarter substitutes the restart execution capability.
func WithRestartStarter(st restart.Starter) Option {
	return func(s *Supervisor) { s.starter = st }
}

// Supervisor wires the supervision core together and exposes its public
// API. Construct with New, then Start; Shutdown tears everything down.
type Supervisor struct {
	cfg config.Config

	adapter   platform.Adapter
	store     registry.Store
	sinks     []history.Sink
	starter   restart.Starter
	reg       *registry.Registry
	rec       *regsync.Reconciler
	runner    *health.Runner
	engine    *restart.Engine
	mon       *monitor.Monitor
	collector *metrics.Collector
	pools     *poolmgr.Manager
	broker    *ipc.Broker

	cancel context.CancelFunc
}

// New constructs a Supervisor from cfg. The platform adapter follows the
// selection policy (explicit override > auto-detect > mock) unless
// substituted via WithAdapter.
func New(cfg config.Config, opts ...Option) (*Supervisor, error) {
	s := &Supervisor{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}

	if s.adapter == nil {
		allowMock := cfg.AllowMockFallback == nil || *cfg.AllowMockFallback
		a, err := platform.NewWithFallback(platform.Selection(cfg.PlatformAdapter), allowMock)
		if err != nil {
			return nil, fmt.Errorf("platform adapter init: %w", err)
		}
		s.adapter = a
	}

	if s.store == nil {
		dsn := cfg.Registry.StoreDSN
		if dsn == "" {
			dsn = "memory://"
		}
		st, err := storefactory.NewFromDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("registry store init: %w", err)
		}
		s.store = st
	}

	if len(s.sinks) > 0 {
		s.store = history.TeeStore{Store: s.store, Sink: history.NewFanout(s.sinks...)}
	}

	s.reg = registry.New(s.store)
	s.rec = regsync.New(regsync.Config{
		AutoSync:           true,
		SyncInterval:       cfg.RefreshInterval,
		EnableDiscovery:    true,
		EnableTracking:     true,
		EnableDeadCleanup:  true,
		DeadProcessTimeout: 3 * cfg.RefreshInterval,
	}, s.adapter, s.reg)

	s.runner = health.NewRunner(s.adapter)
	if s.starter == nil {
		s.starter = &procStarter{adapter: s.adapter, reg: s.reg}
	}
	s.engine = restart.New(s.starter)
	s.mon = monitor.New(monitor.Config{
		GlobalInterval:     cfg.HealthMonitoring.GlobalInterval,
		HealthyThreshold:   cfg.HealthMonitoring.HealthyThreshold,
		UnhealthyThreshold: cfg.HealthMonitoring.UnhealthyThreshold,
	}, s.reg, s.runner, s.engine)

	s.collector = metrics.NewCollector(s.adapter, cfg.RefreshInterval, cfg.BufferSize)

	if cfg.EnablePooling {
		s.pools = poolmgr.New()
	}
	if cfg.EnableIPC {
		s.broker = ipc.NewBroker()
	}
	return s, nil
}

// Adapter exposes the selected platform adapter.
func (s *Supervisor) Adapter() platform.Adapter { return s.adapter }

// Registry exposes the process registry for direct queries.
func (s *Supervisor) Registry() *registry.Registry { return s.reg }

// Start launches the sync reconciler, health monitor, metrics sampling,
// periodic cleanup, and any configured pools.
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.rec.Start(ctx)
	s.mon.Start(ctx)
	if s.cfg.MonitorSystemMetrics {
		s.collector.Start(ctx)
	}
	go s.cleanupLoop(ctx)

	if s.pools != nil {
		for _, pc := range s.cfg.Pools {
			if _, err := s.pools.CreatePool(ctx, pc.ToPool()); err != nil {
				return fmt.Errorf("create pool %q: %w", pc.Name, err)
			}
		}
	}
	return nil
}

func (s *Supervisor) cleanupLoop(ctx context.Context) {
	interval := s.cfg.Registry.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			procRet := time.Duration(s.cfg.Registry.ProcessRetentionDays) * 24 * time.Hour
			evRet := time.Duration(s.cfg.Registry.EventRetentionDays) * 24 * time.Hour
			_, _ = s.reg.Cleanup(ctx, procRet, evRet)
		}
	}
}

// Shutdown cancels all timers and loops, drains pools, and closes the
// store. Teardown errors are never propagated; an error from closing the
// store is discarded.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.pools != nil {
		s.pools.Shutdown(timeout)
	}
	s.rec.Stop()
	s.mon.Stop()
	if s.cfg.MonitorSystemMetrics {
		s.collector.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// --- Process queries ---

// GetProcessList returns a full adapter snapshot.
func (s *Supervisor) GetProcessList(ctx context.Context) ([]ProcessInfo, error) {
	return s.adapter.GetProcessList(ctx)
}

// FindProcesses queries the registry.
func (s *Supervisor) FindProcesses(q Query) []RegistryProcess {
	return s.reg.Find(q)
}

// SyncOnce forces one reconciliation tick outside the cadence.
func (s *Supervisor) SyncOnce(ctx context.Context) error {
	return s.rec.ReconcileOnce(ctx)
}

// --- Lifecycle control ---

func (s *Supervisor) KillProcess(ctx context.Context, pid int32, sig Signal) error {
	return s.adapter.KillProcess(ctx, pid, sig)
}

func (s *Supervisor) SuspendProcess(ctx context.Context, pid int32) error {
	return s.adapter.SuspendProcess(ctx, pid)
}

func (s *Supervisor) ResumeProcess(ctx context.Context, pid int32) error {
	return s.adapter.ResumeProcess(ctx, pid)
}

// --- Metrics ---

// GetSystemMetrics samples the host immediately.
func (s *Supervisor) GetSystemMetrics(ctx context.Context) (SystemMetrics, error) {
	return s.collector.Sample(ctx)
}

// GetMetricsHistory returns the buffered samples, oldest first.
func (s *Supervisor) GetMetricsHistory() []SystemMetrics {
	return s.collector.History()
}

// GetAggregatedMetrics summarizes samples in [since, until]. Fails when
// the range holds no samples.
func (s *Supervisor) GetAggregatedMetrics(since, until time.Time) (metrics.Aggregated, error) {
	return s.collector.Aggregate(since, until)
}

// --- Health & restart ---

// StartSupervision installs health checks and restart policy for a
// registered process.
func (s *Supervisor) StartSupervision(registryID string, cfg SupervisionConfig) error {
	if !s.cfg.EnableAutoRestart {
		cfg.AutoRestart.Enabled = false
	}
	return s.mon.Supervise(registryID, cfg)
}

// StopSupervision removes the process from supervision. Idempotent.
func (s *Supervisor) StopSupervision(registryID string) {
	s.mon.Unsupervise(registryID)
}

// TriggerHealthCheck runs the installed checks immediately.
func (s *Supervisor) TriggerHealthCheck(ctx context.Context, registryID string) ([]HealthResult, error) {
	return s.mon.TriggerHealthCheck(ctx, registryID)
}

// HealthState reports the supervision state for registryID.
func (s *Supervisor) HealthState(registryID string) (HealthState, bool) {
	return s.mon.State(registryID)
}

// HealthStats aggregates health across all supervised processes.
func (s *Supervisor) HealthStats() monitor.Stats {
	return s.mon.Stats()
}

// RestartProcess performs a manual restart, bypassing policy and rate
// limits but honoring single-flight.
func (s *Supervisor) RestartProcess(ctx context.Context, registryID string) (*RestartAttempt, error) {
	p, ok := s.reg.Get(registryID)
	if !ok {
		return nil, fmt.Errorf("%w: registryId %q", errs.ErrProcessNotFound, registryID)
	}
	return s.engine.ManualRestart(ctx, registryID, p.PID)
}

// RestartHistory returns recorded attempts for registryID.
func (s *Supervisor) RestartHistory(registryID string) []RestartAttempt {
	return s.engine.History(registryID)
}

// --- Pools ---

func (s *Supervisor) poolsOn() (*poolmgr.Manager, error) {
	if s.pools == nil {
		return nil, fmt.Errorf("%w: pooling is disabled", errs.ErrPoolNotFound)
	}
	return s.pools, nil
}

// CreatePool validates cfg, creates and starts a new pool.
func (s *Supervisor) CreatePool(ctx context.Context, cfg PoolConfig) (string, error) {
	mgr, err := s.poolsOn()
	if err != nil {
		return "", err
	}
	p, err := mgr.CreatePool(ctx, cfg)
	if err != nil {
		return "", err
	}
	return p.ID(), nil
}

// RemovePool drains and removes the pool.
func (s *Supervisor) RemovePool(poolID string, timeout time.Duration) error {
	mgr, err := s.poolsOn()
	if err != nil {
		return err
	}
	return mgr.RemovePool(poolID, timeout)
}

// SubmitTaskToPool routes a task to the named pool.
func (s *Supervisor) SubmitTaskToPool(poolID string, t PoolTask) (string, error) {
	mgr, err := s.poolsOn()
	if err != nil {
		return "", err
	}
	return mgr.SubmitTask(poolID, t)
}

// GetPoolStatus reports metrics for one pool.
func (s *Supervisor) GetPoolStatus(poolID string) (PoolMetrics, error) {
	mgr, err := s.poolsOn()
	if err != nil {
		return PoolMetrics{}, err
	}
	p, ok := mgr.GetPool(poolID)
	if !ok {
		return PoolMetrics{}, fmt.Errorf("%w: %q", errs.ErrPoolNotFound, poolID)
	}
	return p.Metrics(), nil
}

// ScalePool resizes the pool within its configured bounds.
func (s *Supervisor) ScalePool(poolID string, target int) error {
	mgr, err := s.poolsOn()
	if err != nil {
		return err
	}
	p, ok := mgr.GetPool(poolID)
	if !ok {
		return fmt.Errorf("%w: %q", errs.ErrPoolNotFound, poolID)
	}
	p.SetSize(target)
	return nil
}

// PoolManager exposes the pool manager, or nil when pooling is disabled.
func (s *Supervisor) PoolManager() *poolmgr.Manager { return s.pools }

// --- IPC ---

func (s *Supervisor) ipcOn() (*ipc.Broker, error) {
	if s.broker == nil {
		return nil, fmt.Errorf("%w: IPC is disabled", errs.ErrIPCConnection)
	}
	return s.broker, nil
}

// RegisterProcessForIPC allocates a "process-<pid>" endpoint.
func (s *Supervisor) RegisterProcessForIPC(pid int32, handler ipc.Handler) (string, error) {
	b, err := s.ipcOn()
	if err != nil {
		return "", err
	}
	return b.Register(pid, handler)
}

// UnregisterProcessFromIPC releases the endpoint. Idempotent.
func (s *Supervisor) UnregisterProcessFromIPC(processID string) error {
	b, err := s.ipcOn()
	if err != nil {
		return err
	}
	b.Unregister(processID)
	return nil
}

// SendIPCMessage is fire-and-forget delivery.
func (s *Supervisor) SendIPCMessage(processID string, payload json.RawMessage) error {
	b, err := s.ipcOn()
	if err != nil {
		return err
	}
	return b.SendToProcess(processID, payload)
}

// RequestIPCResponse delivers a request and awaits the response up to
// timeout (falling back to the configured default).
func (s *Supervisor) RequestIPCResponse(ctx context.Context, processID string, payload json.RawMessage, timeout time.Duration) (IPCResponse, error) {
	b, err := s.ipcOn()
	if err != nil {
		return IPCResponse{}, err
	}
	if timeout <= 0 {
		timeout = s.cfg.IPC.DefaultTimeout
	}
	return b.RequestFromProcess(ctx, processID, payload, timeout)
}

// BroadcastIPCMessage delivers payload to every registered process,
// best-effort; returns the delivery count.
func (s *Supervisor) BroadcastIPCMessage(payload json.RawMessage) (int, error) {
	b, err := s.ipcOn()
	if err != nil {
		return 0, err
	}
	return b.BroadcastToProcesses(payload), nil
}

// GetIPCConnections lists registered IPC endpoints.
func (s *Supervisor) GetIPCConnections() ([]IPCConnection, error) {
	b, err := s.ipcOn()
	if err != nil {
		return nil, err
	}
	return b.Connections(), nil
}
