package health

import (
	"context"
	"sync"
	"time"

	"github.com/corectl/supervisor/internal/platform"
)

type sample struct {
	at  time.Time
	cpu float64
}

// sampleHistory keeps a short sliding window of (timestamp, cpu) samples
// per registryId, bounding memory by discarding, on each record, samples
// older than the recording check's sustainedFor plus one second.
type sampleHistory struct {
	mu      sync.Mutex
	samples map[string][]sample
}

func newSampleHistory() *sampleHistory {
	return &sampleHistory{samples: make(map[string][]sample)}
}

func (h *sampleHistory) record(registryID string, at time.Time, cpu float64, retain time.Duration) []sample {
	h.mu.Lock()
	defer h.mu.Unlock()

	window := append(h.samples[registryID], sample{at: at, cpu: cpu})
	cutoff := at.Add(-retain - time.Second)
	trimmed := window[:0:0]
	for _, s := range window {
		if s.at.After(cutoff) {
			trimmed = append(trimmed, s)
		}
	}
	h.samples[registryID] = trimmed
	return append([]sample(nil), trimmed...)
}

// checkCPUUsage is unhealthy only if samples exceed maxCpuPercent
// continuously for at least sustainedDuration; a single spike is healthy.
func (r *Runner) checkCPUUsage(observed platform.ProcessInfo, check Check, res *Result) {
	window := r.history.record(res.RegistryID, res.Timestamp, observed.CPU, check.SustainedFor)

	if len(window) == 0 {
		res.Status = StatusHealthy
		return
	}

	// Find the longest trailing run of over-threshold samples.
	var sustainedSince time.Time
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].cpu <= check.MaxCPUPercent {
			break
		}
		sustainedSince = window[i].at
	}

	if sustainedSince.IsZero() {
		res.Status = StatusHealthy
		return
	}

	latest := window[len(window)-1]
	if latest.at.Sub(sustainedSince) >= check.SustainedFor {
		res.Status = StatusUnhealthy
		res.Message = "sustained high CPU usage"
		return
	}
	res.Status = StatusHealthy
}

// checkMemoryUsage is healthy if memoryMB <= maxMemoryMB AND, when
// maxMemoryPercent is configured and system metrics are available,
// memoryMB/systemTotalMB <= maxMemoryPercent. Unavailable system metrics
// never fail the check on the percentage clause alone.
func (r *Runner) checkMemoryUsage(ctx context.Context, observed platform.ProcessInfo, check Check, res *Result) {
	memoryMB := float64(observed.Memory) / (1024 * 1024)
	if memoryMB > check.MaxMemoryMB {
		res.Status = StatusUnhealthy
		res.Message = "memory usage exceeds maxMemoryMB"
		return
	}

	if check.MaxMemoryPercent > 0 {
		sys, err := r.adapter.GetSystemMetrics(ctx)
		if err == nil && sys.MemoryTotal > 0 {
			totalMB := float64(sys.MemoryTotal) / (1024 * 1024)
			if memoryMB/totalMB > check.MaxMemoryPercent {
				res.Status = StatusUnhealthy
				res.Message = "memory usage exceeds maxMemoryPercent"
				return
			}
		}
	}
	res.Status = StatusHealthy
}
