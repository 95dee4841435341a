// Package platform is the narrow abstraction the supervision core uses to
// touch the host OS: enumerate processes, read system metrics, and send
// process signals. A real adapter wraps gopsutil; a mock adapter generates
// synthetic data for tests and unsupported hosts.
package platform

import (
	"context"
	"time"
)

// ProcessStatus mirrors the status vocabulary of the registry's RegistryProcess.
type ProcessStatus string

const (
	StatusRunning  ProcessStatus = "running"
	StatusStopped  ProcessStatus = "stopped"
	StatusError    ProcessStatus = "error"
	StatusStarting ProcessStatus = "starting"
	StatusStopping ProcessStatus = "stopping"
)

// ProcessInfo is the adapter's view of one OS process.
type ProcessInfo struct {
	PID       int32
	PPID      int32
	Name      string
	Command   string
	Args      []string
	User      string
	CPU       float64 // percent, [0,100]
	Memory    uint64  // bytes (RSS)
	VSZ       uint64  // bytes
	RSS       uint64  // bytes
	StartTime time.Time
	Status    ProcessStatus
}

// SystemMetrics is a point-in-time snapshot of host resource usage.
type SystemMetrics struct {
	Timestamp      time.Time
	CPUPercent     float64
	PerCorePercent []float64
	LoadAvg1       float64
	LoadAvg5       float64
	LoadAvg15      float64
	MemoryTotal    uint64
	MemoryUsed     uint64
	MemoryFree     uint64
	SwapTotal      uint64
	SwapUsed       uint64
	DiskReadBytes  uint64
	DiskWriteBytes uint64
	DiskUtilPct    float64
}

// Signal is a symbolic signal name, mapped to the platform's signal number
// by the adapter implementation. TERM, KILL, STOP, CONT are understood by
// the mock adapter and by the gopsutil adapter on Unix; on Windows only
// TERM and KILL are supported (both terminate the process) and any other
// signal returns ErrAdapterFailure.
type Signal string

const (
	SignalTerm Signal = "TERM"
	SignalKill Signal = "KILL"
	SignalStop Signal = "STOP"
	SignalCont Signal = "CONT"
	SignalHup  Signal = "HUP"
	SignalInt  Signal = "INT"
	SignalUsr1 Signal = "USR1"
	SignalUsr2 Signal = "USR2"
)

// Adapter is the pluggable boundary between the core and the OS.
// Implementations must not panic; all failures are returned as errors
// wrapping errs.ErrAdapterFailure or errs.ErrPermissionDenied.
type Adapter interface {
	// GetProcessList returns a full snapshot of observable processes. Safe
	// to call repeatedly and concurrently.
	GetProcessList(ctx context.Context) ([]ProcessInfo, error)

	// GetProcessInfo looks up a single process by pid. Returns
	// (ProcessInfo{}, false, nil) when the pid is not present, and a
	// non-nil error only on adapter failure.
	GetProcessInfo(ctx context.Context, pid int32) (ProcessInfo, bool, error)

	// GetSystemMetrics returns an overall snapshot of host resource usage.
	GetSystemMetrics(ctx context.Context) (SystemMetrics, error)

	// KillProcess sends sig to pid.
	KillProcess(ctx context.Context, pid int32, sig Signal) error

	// SuspendProcess is equivalent to KillProcess(pid, SignalStop).
	SuspendProcess(ctx context.Context, pid int32) error

	// ResumeProcess is equivalent to KillProcess(pid, SignalCont).
	ResumeProcess(ctx context.Context, pid int32) error

	// Name identifies the adapter implementation, e.g. "gopsutil-linux", "mock".
	Name() string
}
