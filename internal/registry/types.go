// Package registry is the authoritative in-memory model of every known
// process: its lifecycle event log, tags, and management status. All
// mutations route through the Registry; readers receive immutable
// snapshots.
package registry

import (
	"sort"
	"time"

	"github.com/corectl/supervisor/internal/platform"
)

// RegistryProcess is the registry's view of one process, extending the
// adapter's ProcessInfo with registry-owned bookkeeping.
type RegistryProcess struct {
	platform.ProcessInfo

	RegistryID string
	FirstSeen  time.Time
	LastSeen   time.Time
	SeenCount  int64
	IsManaged  bool
	Tags       map[string]struct{}
}

// TagList returns a defensive copy of the tag set as a sorted slice.
func (p RegistryProcess) TagList() []string {
	out := make([]string, 0, len(p.Tags))
	for t := range p.Tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// EventType enumerates the lifecycle transitions a RegistryProcess can emit.
type EventType string

const (
	EventDiscovered   EventType = "discovered"
	EventUpdated      EventType = "updated"
	EventStatusChange EventType = "status_change"
	EventDisappeared  EventType = "disappeared"
	EventReappeared   EventType = "reappeared"
	EventManaged      EventType = "managed"
	EventUnmanaged    EventType = "unmanaged"
)

// LifecycleEvent is an append-only record of a registry state transition.
type LifecycleEvent struct {
	EventID        string
	RegistryID     string
	PID            int32
	Event          EventType
	Timestamp      time.Time
	PreviousStatus platform.ProcessStatus
	NewStatus      platform.ProcessStatus
	Metadata       map[string]string
}

// ManagementConfig governs supervision of a ManagedProcess.
type ManagementConfig struct {
	AutoRestart             bool
	MaxRestarts             int
	RestartDelay            time.Duration
	HealthCheckInterval     time.Duration
	HealthCheckTimeout      time.Duration
	GracefulShutdownTimeout time.Duration
}

// ManagedProcess is the supervision-facing state attached to a
// RegistryProcess once placed under management.
type ManagedProcess struct {
	RegistryID          string
	Config              ManagementConfig
	RestartCount        int
	LastRestartTime      time.Time
	IsHealthy            bool
	LastHealthCheck      time.Time
	HealthCheckFailures  int
}

// ProcessSnapshot is the unit exported by Snapshot and accepted by Restore.
type ProcessSnapshot struct {
	RegistryID string
	Process    RegistryProcess
	Lifecycle  []LifecycleEvent
}
