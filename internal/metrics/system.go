package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/corectl/supervisor/internal/platform"
)

// Collector samples system metrics from the adapter on a cadence into a
// bounded ring buffer. Oldest samples are evicted on overflow.
type Collector struct {
	adapter  platform.Adapter
	interval time.Duration

	mu      sync.RWMutex
	ring    []platform.SystemMetrics
	next    int
	filled  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCollector sizes the ring buffer to bufferSize samples.
func NewCollector(adapter platform.Adapter, interval time.Duration, bufferSize int) *Collector {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Collector{
		adapter:  adapter,
		interval: interval,
		ring:     make([]platform.SystemMetrics, bufferSize),
	}
}

// Sample takes one reading immediately and records it.
func (c *Collector) Sample(ctx context.Context) (platform.SystemMetrics, error) {
	m, err := c.adapter.GetSystemMetrics(ctx)
	if err != nil {
		return platform.SystemMetrics{}, err
	}
	c.record(m)
	return m, nil
}

func (c *Collector) record(m platform.SystemMetrics) {
	c.mu.Lock()
	c.ring[c.next] = m
	c.next++
	if c.next == len(c.ring) {
		c.next = 0
		c.filled = true
	}
	c.mu.Unlock()
}

// History returns recorded samples, oldest first.
func (c *Collector) History() []platform.SystemMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.filled {
		return append([]platform.SystemMetrics(nil), c.ring[:c.next]...)
	}
	out := make([]platform.SystemMetrics, 0, len(c.ring))
	out = append(out, c.ring[c.next:]...)
	out = append(out, c.ring[:c.next]...)
	return out
}

// Latest returns the most recent sample, if any.
func (c *Collector) Latest() (platform.SystemMetrics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := c.next - 1
	if idx < 0 {
		if !c.filled {
			return platform.SystemMetrics{}, false
		}
		idx = len(c.ring) - 1
	}
	m := c.ring[idx]
	if m.Timestamp.IsZero() {
		return platform.SystemMetrics{}, false
	}
	return m, true
}

// Aggregated summarizes samples within a time range.
type Aggregated struct {
	CPUMin float64
	CPUMax float64
	CPUAvg float64

	MemoryPctMin float64
	MemoryPctMax float64
	MemoryPctAvg float64

	DiskReadBytes  uint64
	DiskWriteBytes uint64
	SampleCount    int
}

// Aggregate computes min/max/avg for cpu and memory percent plus summed
// disk reads/writes over samples in [since, until]. Fails when no
// samples fall in the range.
func (c *Collector) Aggregate(since, until time.Time) (Aggregated, error) {
	var agg Aggregated
	var cpuSum, memSum float64

	for _, m := range c.History() {
		if m.Timestamp.Before(since) || m.Timestamp.After(until) {
			continue
		}
		memPct := 0.0
		if m.MemoryTotal > 0 {
			memPct = float64(m.MemoryUsed) / float64(m.MemoryTotal) * 100
		}
		if agg.SampleCount == 0 {
			agg.CPUMin, agg.CPUMax = m.CPUPercent, m.CPUPercent
			agg.MemoryPctMin, agg.MemoryPctMax = memPct, memPct
		} else {
			if m.CPUPercent < agg.CPUMin {
				agg.CPUMin = m.CPUPercent
			}
			if m.CPUPercent > agg.CPUMax {
				agg.CPUMax = m.CPUPercent
			}
			if memPct < agg.MemoryPctMin {
				agg.MemoryPctMin = memPct
			}
			if memPct > agg.MemoryPctMax {
				agg.MemoryPctMax = memPct
			}
		}
		cpuSum += m.CPUPercent
		memSum += memPct
		agg.DiskReadBytes += m.DiskReadBytes
		agg.DiskWriteBytes += m.DiskWriteBytes
		agg.SampleCount++
	}

	if agg.SampleCount == 0 {
		return Aggregated{}, fmt.Errorf("no metrics samples between %s and %s", since, until)
	}
	agg.CPUAvg = cpuSum / float64(agg.SampleCount)
	agg.MemoryPctAvg = memSum / float64(agg.SampleCount)
	return agg, nil
}

// Start launches the periodic sampling loop. Stop cancels it.
func (c *Collector) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.Sample(ctx); err != nil {
					slog.Debug("system metrics sample failed", "error", err)
				}
			}
		}
	}()
}

// Stop cancels the sampling loop and waits for it to exit.
func (c *Collector) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}
