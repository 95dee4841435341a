package metrics

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/corectl/supervisor/internal/platform"
)

// OTelBridge mirrors system metric samples into OpenTelemetry
// instruments. Off by default; construct one only when an OTel meter is
// wired by the host.
type OTelBridge struct {
	cpu    metric.Float64Gauge
	memory metric.Int64Gauge
	load1  metric.Float64Gauge
}

// NewOTelBridge creates the instruments on meter.
func NewOTelBridge(meter metric.Meter) (*OTelBridge, error) {
	cpu, err := meter.Float64Gauge("supervisor.system.cpu_percent",
		metric.WithDescription("Overall host CPU utilization."),
		metric.WithUnit("%"))
	if err != nil {
		return nil, err
	}
	mem, err := meter.Int64Gauge("supervisor.system.memory_used",
		metric.WithDescription("Host memory in use."),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	load1, err := meter.Float64Gauge("supervisor.system.load1",
		metric.WithDescription("1-minute load average."))
	if err != nil {
		return nil, err
	}
	return &OTelBridge{cpu: cpu, memory: mem, load1: load1}, nil
}

// Record publishes one sample.
func (b *OTelBridge) Record(ctx context.Context, m platform.SystemMetrics) {
	b.cpu.Record(ctx, m.CPUPercent)
	b.memory.Record(ctx, int64(m.MemoryUsed))
	b.load1.Record(ctx, m.LoadAvg1)
}
