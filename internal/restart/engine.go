// Package restart implements the Auto-Restart Engine: policy dispatch,
// rate limiting, backoff computation, and single-flight restart execution
// per registryId.
package restart

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/corectl/supervisor/internal/errs"
)

// Policy is the restart-on-failure policy.
type Policy string

const (
	PolicyNever          Policy = "never"
	PolicyOnFailure      Policy = "on_failure"
	PolicyAlways         Policy = "always"
	PolicyUnlessStopped  Policy = "unless_stopped"
)

// Strategy is the backoff-delay computation.
type Strategy string

const (
	StrategyImmediate  Strategy = "immediate"
	StrategyLinear     Strategy = "linear"
	StrategyExponential Strategy = "exponential"
	StrategyFixed      Strategy = "fixed"
)

// Reason identifies what triggered a restart decision.
type Reason string

const (
	ReasonExit                Reason = "exit"
	ReasonCrash                Reason = "crash"
	ReasonHealthCheckFailure   Reason = "healthCheckFailure"
	ReasonManual               Reason = "manual"
)

// Config is the AutoRestartConfig of spec.md §3.
type Config struct {
	Enabled                    bool
	Policy                     Policy
	Strategy                   Strategy
	MaxRestarts                int
	TimeWindow                 time.Duration
	InitialDelay               time.Duration
	MaxDelay                   time.Duration
	BackoffMultiplier          float64
	HealthCheckGracePeriod     time.Duration
	RestartOnHealthCheckFailure bool
	RestartOnProcessExit        bool
	RestartOnCrash              bool
}

// Attempt is one RestartAttempt record.
type Attempt struct {
	AttemptID  string
	RegistryID string
	PID        int32
	Timestamp  time.Time
	Reason     Reason
	Success    bool
	NewPID     int32
	DurationMS int64
	Error      string
}

// state is the per-registryId restart bookkeeping (spec.md §4.5).
type state struct {
	mu                sync.Mutex
	restartCount      int
	history           []Attempt // capped at 50
	lastRestartTime   time.Time
	currentDelay      time.Duration
	manuallyStoppedAt time.Time
	restartInProgress bool
	scheduledCancel   context.CancelFunc
}

// Starter gives the engine just enough capability to perform a restart:
// stop the current process, then start a fresh one and report its new
// pid. This is the narrow capability interface spec.md §9 calls for to
// break the Health Monitor <-> Auto-Restart Engine cycle.
type Starter interface {
	StopProcess(ctx context.Context, registryID string, graceful time.Duration) error
	StartProcess(ctx context.Context, registryID string) (newPID int32, err error)
}

// Engine owns all per-registryId restart state.
type Engine struct {
	starter Starter
	group   singleflight.Group

	mu     sync.Mutex
	states map[string]*state
}

// New constructs an Engine that performs restarts through starter.
func New(starter Starter) *Engine {
	return &Engine{starter: starter, states: make(map[string]*state)}
}

func (e *Engine) stateFor(registryID string) *state {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[registryID]
	if !ok {
		s = &state{}
		e.states[registryID] = s
	}
	return s
}

// Decide applies the policy dispatch, rate-limit gate, and backoff
// computation of spec.md §4.5 steps 1-4, then (if the computed delay is
// zero) performs the restart synchronously, or schedules it otherwise.
// Returns the executed Attempt for a zero-delay restart; returns nil when
// the signal was skipped by policy or the restart was scheduled.
func (e *Engine) Decide(ctx context.Context, registryID string, pid int32, cfg Config, reason Reason) (*Attempt, error) {
	if !e.triggerEnabled(cfg, reason) {
		return nil, nil
	}

	s := e.stateFor(registryID)
	s.mu.Lock()
	skip := e.policySkips(cfg, s)
	s.mu.Unlock()
	if skip {
		return nil, nil
	}

	if e.rateLimited(s, cfg) {
		return nil, fmt.Errorf("%w: registryId %q", errs.ErrRestartRateLimited, registryID)
	}

	delay := e.computeDelay(s, cfg)

	if delay == 0 {
		return e.execute(ctx, registryID, pid, reason)
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.scheduledCancel != nil {
		s.scheduledCancel()
	}
	s.scheduledCancel = cancel
	s.mu.Unlock()

	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			_, _ = e.execute(context.Background(), registryID, pid, reason)
		case <-schedCtx.Done():
		}
	}()
	return nil, nil
}

func (e *Engine) triggerEnabled(cfg Config, reason Reason) bool {
	if !cfg.Enabled {
		return false
	}
	switch reason {
	case ReasonHealthCheckFailure:
		return cfg.RestartOnHealthCheckFailure
	case ReasonExit:
		return cfg.RestartOnProcessExit
	case ReasonCrash:
		return cfg.RestartOnCrash
	case ReasonManual:
		return true
	default:
		return false
	}
}

func (e *Engine) policySkips(cfg Config, s *state) bool {
	switch cfg.Policy {
	case PolicyNever:
		return true
	case PolicyOnFailure, PolicyAlways:
		return false
	case PolicyUnlessStopped:
		return !s.manuallyStoppedAt.IsZero()
	default:
		return true
	}
}

func (e *Engine) rateLimited(s *state, cfg Config) bool {
	if cfg.MaxRestarts <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-cfg.TimeWindow)
	count := 0
	for _, a := range s.history {
		if a.Timestamp.After(cutoff) {
			count++
		}
	}
	return count >= cfg.MaxRestarts
}

func (e *Engine) computeDelay(s *state, cfg Config) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	var delay time.Duration
	switch cfg.Strategy {
	case StrategyImmediate:
		delay = 0
	case StrategyFixed:
		delay = cfg.InitialDelay
	case StrategyLinear:
		delay = cfg.InitialDelay + time.Duration(s.restartCount)*time.Second
	case StrategyExponential:
		mult := math.Pow(cfg.BackoffMultiplier, float64(s.restartCount))
		delay = time.Duration(float64(cfg.InitialDelay) * mult)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	default:
		delay = cfg.InitialDelay
	}
	s.currentDelay = delay
	return delay
}

// ManualRestart bypasses policy and rate limits but still honors
// single-flight.
func (e *Engine) ManualRestart(ctx context.Context, registryID string, pid int32) (*Attempt, error) {
	return e.execute(ctx, registryID, pid, ReasonManual)
}

// execute performs the restart with single-flight-per-registryId
// semantics: a concurrent call for the same key observes
// ErrRestartInProgress instead of joining the in-flight call, matching
// spec.md §8 property 8 ("the second call fails with RestartInProgress").
func (e *Engine) execute(ctx context.Context, registryID string, pid int32, reason Reason) (*Attempt, error) {
	s := e.stateFor(registryID)

	s.mu.Lock()
	if s.restartInProgress {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: registryId %q", errs.ErrRestartInProgress, registryID)
	}
	s.restartInProgress = true
	s.mu.Unlock()

	result, err, _ := e.group.Do(registryID, func() (interface{}, error) {
		defer func() {
			s.mu.Lock()
			s.restartInProgress = false
			s.mu.Unlock()
		}()
		return e.doRestart(ctx, registryID, pid, reason)
	})

	if err != nil {
		return nil, err
	}
	return result.(*Attempt), nil
}

func (e *Engine) doRestart(ctx context.Context, registryID string, pid int32, reason Reason) (*Attempt, error) {
	start := time.Now()
	attempt := Attempt{
		AttemptID:  newAttemptID(),
		RegistryID: registryID,
		PID:        pid,
		Timestamp:  start,
		Reason:     reason,
	}

	if err := e.starter.StopProcess(ctx, registryID, 0); err != nil {
		attempt.Error = err.Error()
		e.recordAttempt(registryID, attempt, start)
		return &attempt, nil
	}

	newPID, err := e.starter.StartProcess(ctx, registryID)
	attempt.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		attempt.Error = err.Error()
		e.recordAttempt(registryID, attempt, start)
		return &attempt, nil
	}

	attempt.Success = true
	attempt.NewPID = newPID
	e.recordAttempt(registryID, attempt, start)
	return &attempt, nil
}

func (e *Engine) recordAttempt(registryID string, attempt Attempt, now time.Time) {
	s := e.stateFor(registryID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, attempt)
	if len(s.history) > 50 {
		s.history = s.history[len(s.history)-50:]
	}
	s.restartCount++
	s.lastRestartTime = now
}

// MarkManuallyStopped records that the process was stopped by an operator,
// suppressing unless_stopped-policy restarts and cancelling any restart
// still waiting on its delay.
func (e *Engine) MarkManuallyStopped(registryID string) {
	s := e.stateFor(registryID)
	s.mu.Lock()
	s.manuallyStoppedAt = time.Now()
	if s.scheduledCancel != nil {
		s.scheduledCancel()
		s.scheduledCancel = nil
	}
	s.mu.Unlock()
}

// ClearManualStop reverses MarkManuallyStopped.
func (e *Engine) ClearManualStop(registryID string) {
	s := e.stateFor(registryID)
	s.mu.Lock()
	s.manuallyStoppedAt = time.Time{}
	s.mu.Unlock()
}

// ResetRestartState zeroes restartCount/history/currentDelay for registryID.
func (e *Engine) ResetRestartState(registryID string) {
	s := e.stateFor(registryID)
	s.mu.Lock()
	s.restartCount = 0
	s.history = nil
	s.currentDelay = 0
	s.mu.Unlock()
}

// History returns a defensive copy of the recorded attempts for registryID.
func (e *Engine) History(registryID string) []Attempt {
	s := e.stateFor(registryID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Attempt(nil), s.history...)
}
