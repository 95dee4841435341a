package pool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/corectl/supervisor/internal/errs"
)

// Schedule drives the scheduled scaling strategy: at every period, the
// pool is resized to Size. Only "@every <duration>" expressions are
// supported. Resizes stay clamped to [minWorkers, maxWorkers].
type Schedule struct {
	Expr string `mapstructure:"expr"`
	Size int    `mapstructure:"size"`
}

// parseEvery parses schedules of the form "@every <duration>".
func parseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(expr, "@every ")))
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("@every duration must be > 0")
	}
	return d, nil
}

// Validate checks the expression parses and the target size is sane.
func (s Schedule) Validate() error {
	if _, err := parseEvery(s.Expr); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSupervisionConfig, err)
	}
	if s.Size < 0 {
		return fmt.Errorf("%w: schedule size must be >= 0", errs.ErrSupervisionConfig)
	}
	return nil
}

// scheduleRunner runs one ticker loop per schedule and applies the target
// size through setSize.
type scheduleRunner struct {
	schedules []Schedule
	setSize   func(int)
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newScheduleRunner(schedules []Schedule, setSize func(int)) *scheduleRunner {
	return &scheduleRunner{schedules: schedules, setSize: setSize}
}

func (r *scheduleRunner) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	for _, s := range r.schedules {
		d, err := parseEvery(s.Expr)
		if err != nil {
			continue // validated at pool creation; defensive skip only
		}
		r.wg.Add(1)
		go r.runOne(ctx, d, s.Size)
	}
}

func (r *scheduleRunner) runOne(ctx context.Context, period time.Duration, size int) {
	defer r.wg.Done()
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.setSize(size)
		}
	}
}

func (r *scheduleRunner) stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
}
