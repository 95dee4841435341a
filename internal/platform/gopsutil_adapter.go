package platform

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	gcpu "github.com/shirou/gopsutil/v4/cpu"
	gdisk "github.com/shirou/gopsutil/v4/disk"
	gload "github.com/shirou/gopsutil/v4/load"
	gmem "github.com/shirou/gopsutil/v4/mem"
	gprocess "github.com/shirou/gopsutil/v4/process"

	"github.com/corectl/supervisor/internal/errs"
)

// GopsutilAdapter implements Adapter on top of github.com/shirou/gopsutil/v4.
type GopsutilAdapter struct{}

// NewGopsutilAdapter returns the real, OS-backed adapter.
func NewGopsutilAdapter() *GopsutilAdapter { return &GopsutilAdapter{} }

func (a *GopsutilAdapter) Name() string { return "gopsutil-" + runtime.GOOS }

func (a *GopsutilAdapter) GetProcessList(ctx context.Context) ([]ProcessInfo, error) {
	pids, err := gprocess.PidsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list pids: %v", errs.ErrAdapterFailure, err)
	}
	out := make([]ProcessInfo, 0, len(pids))
	for _, pid := range pids {
		info, ok, err := a.describe(ctx, pid)
		if err != nil {
			slog.Debug("skip process during enumeration", "pid", pid, "error", err)
			continue
		}
		if ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func (a *GopsutilAdapter) GetProcessInfo(ctx context.Context, pid int32) (ProcessInfo, bool, error) {
	return a.describe(ctx, pid)
}

func (a *GopsutilAdapter) describe(ctx context.Context, pid int32) (ProcessInfo, bool, error) {
	proc, err := gprocess.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ProcessInfo{}, false, nil // #nosec G601 -- process exited between enumeration and describe; not an adapter failure
	}

	name, _ := proc.NameWithContext(ctx)
	cmdline, _ := proc.CmdlineSliceWithContext(ctx)
	username, _ := proc.UsernameWithContext(ctx)
	ppid, _ := proc.PpidWithContext(ctx)
	cpuPct, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		cpuPct = 0
	}
	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return ProcessInfo{}, false, nil
	}
	createdMs, _ := proc.CreateTimeWithContext(ctx)
	status := StatusRunning
	if st, err := proc.StatusWithContext(ctx); err == nil && len(st) > 0 {
		status = mapGopsutilStatus(st[0])
	}

	cmd := name
	if len(cmdline) > 0 {
		cmd = cmdline[0]
	}

	return ProcessInfo{
		PID:       pid,
		PPID:      ppid,
		Name:      name,
		Command:   cmd,
		Args:      cmdline,
		User:      username,
		CPU:       cpuPct,
		Memory:    memInfo.RSS,
		VSZ:       memInfo.VMS,
		RSS:       memInfo.RSS,
		StartTime: time.UnixMilli(createdMs),
		Status:    status,
	}, true, nil
}

func mapGopsutilStatus(s string) ProcessStatus {
	switch s {
	case "R", "running":
		return StatusRunning
	case "T", "stop":
		return StatusStopping
	case "D", "S", "sleep":
		return StatusRunning
	case "Z", "zombie":
		return StatusError
	default:
		return StatusRunning
	}
}

func (a *GopsutilAdapter) GetSystemMetrics(ctx context.Context) (SystemMetrics, error) {
	now := time.Now()
	m := SystemMetrics{Timestamp: now}

	if pcts, err := gcpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		m.CPUPercent = pcts[0]
	}
	if perCore, err := gcpu.PercentWithContext(ctx, 0, true); err == nil {
		m.PerCorePercent = perCore
	}
	if avg, err := gload.AvgWithContext(ctx); err == nil && avg != nil {
		m.LoadAvg1, m.LoadAvg5, m.LoadAvg15 = avg.Load1, avg.Load5, avg.Load15
	}
	if vm, err := gmem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		m.MemoryTotal, m.MemoryUsed, m.MemoryFree = vm.Total, vm.Used, vm.Free
	}
	if sw, err := gmem.SwapMemoryWithContext(ctx); err == nil && sw != nil {
		m.SwapTotal, m.SwapUsed = sw.Total, sw.Used
	}
	if counters, err := gdisk.IOCountersWithContext(ctx); err == nil {
		for _, c := range counters {
			m.DiskReadBytes += c.ReadBytes
			m.DiskWriteBytes += c.WriteBytes
		}
	}
	if usage, err := gdisk.UsageWithContext(ctx, "/"); err == nil && usage != nil {
		m.DiskUtilPct = usage.UsedPercent
	}
	return m, nil
}

func (a *GopsutilAdapter) KillProcess(_ context.Context, pid int32, sig Signal) error {
	if err := sendSignal(pid, sig); err != nil {
		return err
	}
	return nil
}

func (a *GopsutilAdapter) SuspendProcess(ctx context.Context, pid int32) error {
	return a.KillProcess(ctx, pid, SignalStop)
}

func (a *GopsutilAdapter) ResumeProcess(ctx context.Context, pid int32) error {
	return a.KillProcess(ctx, pid, SignalCont)
}
