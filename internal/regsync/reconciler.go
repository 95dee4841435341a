// Package regsync drives the Process Registry from a platform.Adapter on a
// timer, reconciling discovered/updated/disappeared processes each tick.
package regsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corectl/supervisor/internal/platform"
	"github.com/corectl/supervisor/internal/registry"
)

// Config holds the reconciler's policy knobs (spec.md §4.3).
type Config struct {
	AutoSync           bool
	SyncInterval       time.Duration
	EnableDiscovery    bool
	EnableTracking     bool
	EnableDeadCleanup  bool
	DeadProcessTimeout time.Duration
}

// DefaultConfig mirrors the bounds in spec.md §6 (refreshInterval in
// [100ms, 10s]).
func DefaultConfig() Config {
	return Config{
		AutoSync:           true,
		SyncInterval:       2 * time.Second,
		EnableDiscovery:    true,
		EnableTracking:     true,
		EnableDeadCleanup:  true,
		DeadProcessTimeout: 10 * time.Second,
	}
}

// Reconciler is the Registry Manager / sync reconciler.
type Reconciler struct {
	cfg     Config
	adapter platform.Adapter
	reg     *registry.Registry

	mu           sync.Mutex
	lastSeen     map[int32]time.Time // ledger: pid -> last tick it was observed
	lastSyncTime time.Time
	syncErrors   atomic.Int64
	ticking      atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Reconciler wired to adapter and reg.
func New(cfg Config, adapter platform.Adapter, reg *registry.Registry) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		adapter:  adapter,
		reg:      reg,
		lastSeen: make(map[int32]time.Time),
	}
}

// ReconcileOnce performs exactly one sync tick. Skipped (returns nil
// immediately) if a tick is already in flight, per spec.md §5's "sync
// ticks are serial; a new tick is skipped if still in progress".
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	if !r.ticking.CompareAndSwap(false, true) {
		return nil
	}
	defer r.ticking.Store(false)

	now := time.Now()
	procs, err := r.adapter.GetProcessList(ctx)
	if err != nil {
		r.syncErrors.Add(1)
		slog.Warn("sync tick: adapter failure", "error", err, "syncErrorCount", r.syncErrors.Load())
		return fmt.Errorf("reconcile: %w", err)
	}

	currentPids := make(map[int32]struct{}, len(procs))
	for _, info := range procs {
		currentPids[info.PID] = struct{}{}

		if r.cfg.EnableTracking {
			if id, ok := r.reg.GetByPID(info.PID); ok {
				if err := r.reg.UpdateProcess(ctx, id, info); err != nil {
					slog.Warn("sync tick: update failed", "pid", info.PID, "error", err)
				}
			} else if r.cfg.EnableDiscovery {
				if _, err := r.reg.RegisterProcess(ctx, info); err != nil {
					slog.Warn("sync tick: register failed", "pid", info.PID, "error", err)
				} else {
					categorize(r.reg, info)
				}
			}
		}

		r.mu.Lock()
		r.lastSeen[info.PID] = now
		r.mu.Unlock()
	}

	if r.cfg.EnableDeadCleanup {
		r.reapDead(ctx, currentPids, now)
	}

	r.mu.Lock()
	r.lastSyncTime = now
	r.mu.Unlock()
	r.syncErrors.Store(0)
	return nil
}

func (r *Reconciler) reapDead(ctx context.Context, currentPids map[int32]struct{}, now time.Time) {
	r.mu.Lock()
	stale := make([]int32, 0)
	for pid, seenAt := range r.lastSeen {
		if _, alive := currentPids[pid]; alive {
			continue
		}
		if now.Sub(seenAt) >= r.cfg.DeadProcessTimeout {
			stale = append(stale, pid)
		}
	}
	for _, pid := range stale {
		delete(r.lastSeen, pid)
	}
	r.mu.Unlock()

	for _, pid := range stale {
		id, ok := r.reg.GetByPID(pid)
		if !ok {
			continue
		}
		if err := r.reg.UnregisterProcess(ctx, id); err != nil {
			slog.Warn("sync tick: unregister failed", "pid", pid, "error", err)
		}
	}
}

// categorize applies system/user/applications/services hint tags per
// spec.md §4.3. Tags are hints, not contracts: heuristics are deliberately
// coarse.
func categorize(reg *registry.Registry, info platform.ProcessInfo) {
	id, ok := reg.GetByPID(info.PID)
	if !ok {
		return
	}
	lower := strings.ToLower(info.Name)
	switch {
	case info.User == "root" || info.User == "system":
		_ = reg.TagProcess(id, "system")
	case strings.Contains(lower, "daemon") || strings.HasSuffix(lower, "d"):
		_ = reg.TagProcess(id, "services")
	case strings.Contains(lower, "app") || strings.Contains(lower, "web"):
		_ = reg.TagProcess(id, "applications")
	default:
		_ = reg.TagProcess(id, "user")
	}
}

// LastSyncTime returns the timestamp recorded by the most recent
// successful tick.
func (r *Reconciler) LastSyncTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSyncTime
}

// SyncErrorCount returns the count of consecutive adapter failures since
// the last success.
func (r *Reconciler) SyncErrorCount() int64 { return r.syncErrors.Load() }

// Start begins the periodic ticking loop if AutoSync is enabled.
func (r *Reconciler) Start(ctx context.Context) {
	if !r.cfg.AutoSync {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.ReconcileOnce(ctx); err != nil {
					slog.Debug("reconciler tick error", "error", err)
				}
			}
		}
	}()
}

// Stop cancels the ticking loop and waits for it to exit.
func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}
