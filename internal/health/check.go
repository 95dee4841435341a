// Package health implements the Health Check Engine: a pure
// (ProcessInfo, config, adapter) -> HealthCheckResult transformation for
// each of the five check types spec.md §4.4 defines.
package health

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/corectl/supervisor/internal/errs"
	"github.com/corectl/supervisor/internal/platform"
)

// Type enumerates the HealthCheck sum type.
type Type string

const (
	TypeProcessExists Type = "processExists"
	TypeCPUUsage      Type = "cpuUsage"
	TypeMemoryUsage   Type = "memoryUsage"
	TypeHTTPEndpoint  Type = "httpEndpoint"
	TypeCustomScript  Type = "customScript"
)

// Status is the outcome of one HealthCheckResult.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
	StatusTimeout   Status = "timeout"
	StatusError     Status = "error"
)

// Check is a HealthCheck configuration variant. Only the fields relevant
// to Type are read; the rest are ignored, matching a tagged-union config
// decoded once at installation time (see internal/config).
type Check struct {
	Type    Type
	Enabled bool
	Interval time.Duration
	Timeout  time.Duration
	Retries  int

	// cpuUsage
	MaxCPUPercent    float64
	SustainedFor     time.Duration

	// memoryUsage
	MaxMemoryMB      float64
	MaxMemoryPercent float64

	// httpEndpoint
	URL                string
	ExpectedStatusCode int
	ExpectedResponse   string

	// customScript
	ScriptPath       string
	ScriptArgs       []string
	WorkingDirectory string
	ExpectedExitCode int
}

// Validate checks installation-time invariants (spec.md §4.4 last
// paragraph).
func (c Check) Validate() error {
	if c.Interval < time.Second {
		return fmt.Errorf("%w: interval must be >= 1s", errs.ErrSupervisionConfig)
	}
	if c.Timeout < 100*time.Millisecond {
		return fmt.Errorf("%w: timeout must be >= 100ms", errs.ErrSupervisionConfig)
	}
	if c.Retries < 0 {
		return fmt.Errorf("%w: retries must be >= 0", errs.ErrSupervisionConfig)
	}
	switch c.Type {
	case TypeCPUUsage:
		if c.MaxCPUPercent < 0 || c.MaxCPUPercent > 100 {
			return fmt.Errorf("%w: cpuUsage maxCpuPercent must be in [0,100]", errs.ErrSupervisionConfig)
		}
	case TypeMemoryUsage:
		if c.MaxMemoryMB < 1 {
			return fmt.Errorf("%w: memoryUsage maxMemoryMB must be >= 1", errs.ErrSupervisionConfig)
		}
	case TypeHTTPEndpoint:
		if _, err := url.ParseRequestURI(c.URL); err != nil {
			return fmt.Errorf("%w: httpEndpoint url invalid: %v", errs.ErrSupervisionConfig, err)
		}
	case TypeCustomScript:
		if strings.TrimSpace(c.ScriptPath) == "" {
			return fmt.Errorf("%w: customScript scriptPath must be non-empty", errs.ErrSupervisionConfig)
		}
	case TypeProcessExists:
		// no extra parameters required
	default:
		return fmt.Errorf("%w: unknown health check type %q", errs.ErrSupervisionConfig, c.Type)
	}
	return nil
}

// Result is one HealthCheckResult.
type Result struct {
	CheckID    string
	RegistryID string
	PID        int32
	Type       Type
	Status     Status
	Timestamp  time.Time
	DurationMS int64
	Attempt    int
	Message    string
	Details    map[string]string
}

// Runner executes a Check against a known process, given access to the
// platform adapter and per-registryId sample history (cpuUsage needs a
// sliding window across ticks).
type Runner struct {
	adapter platform.Adapter
	history *sampleHistory
}

// NewRunner constructs a Runner backed by adapter.
func NewRunner(adapter platform.Adapter) *Runner {
	return &Runner{adapter: adapter, history: newSampleHistory()}
}

// Run dispatches on check.Type, retrying up to check.Retries times on a
// non-healthy result. attempt is 0-indexed in the returned Result.
func (r *Runner) Run(ctx context.Context, registryID string, observed platform.ProcessInfo, check Check) Result {
	var last Result
	for attempt := 0; attempt <= check.Retries; attempt++ {
		last = r.runOnce(ctx, registryID, observed, check, attempt)
		if last.Status == StatusHealthy {
			return last
		}
	}
	return last
}

func (r *Runner) runOnce(ctx context.Context, registryID string, observed platform.ProcessInfo, check Check, attempt int) Result {
	start := time.Now()
	res := Result{
		CheckID:    uuid.NewString(),
		RegistryID: registryID,
		PID:        observed.PID,
		Type:       check.Type,
		Timestamp:  start,
		Attempt:    attempt,
	}

	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			res.Status = StatusError
			res.Message = fmt.Sprintf("panic: %v", p)
		}
		res.DurationMS = time.Since(start).Milliseconds()
	}()

	switch check.Type {
	case TypeProcessExists:
		r.checkProcessExists(checkCtx, observed, &res)
	case TypeCPUUsage:
		r.checkCPUUsage(observed, check, &res)
	case TypeMemoryUsage:
		r.checkMemoryUsage(checkCtx, observed, check, &res)
	case TypeHTTPEndpoint:
		r.checkHTTPEndpoint(checkCtx, check, &res)
	case TypeCustomScript:
		r.checkCustomScript(checkCtx, check, &res)
	default:
		res.Status = StatusError
		res.Message = fmt.Sprintf("unknown check type %q", check.Type)
	}
	return res
}

func (r *Runner) checkProcessExists(ctx context.Context, observed platform.ProcessInfo, res *Result) {
	info, ok, err := r.adapter.GetProcessInfo(ctx, observed.PID)
	if err != nil {
		res.Status = StatusError
		res.Message = err.Error()
		return
	}
	if !ok || info.Name != observed.Name {
		res.Status = StatusUnhealthy
		return
	}
	res.Status = StatusHealthy
}
