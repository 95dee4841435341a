package restart

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corectl/supervisor/internal/errs"
)

// fakeStarter counts restarts and can be made slow or failing.
type fakeStarter struct {
	mu       sync.Mutex
	stops    int
	starts   int
	delay    time.Duration
	startErr error
	nextPID  int32
}

func (f *fakeStarter) StopProcess(_ context.Context, _ string, _ time.Duration) error {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	return nil
}

func (f *fakeStarter) StartProcess(_ context.Context, _ string) (int32, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return 0, f.startErr
	}
	f.starts++
	f.nextPID++
	return 1000 + f.nextPID, nil
}

func defaultConfig() Config {
	return Config{
		Enabled:              true,
		Policy:               PolicyOnFailure,
		Strategy:             StrategyImmediate,
		MaxRestarts:          3,
		TimeWindow:           time.Minute,
		RestartOnProcessExit: true,
		RestartOnCrash:       true,
	}
}

func TestDecideRespectsTriggersAndPolicy(t *testing.T) {
	ctx := context.Background()
	e := New(&fakeStarter{})

	cfg := defaultConfig()
	cfg.RestartOnProcessExit = false
	attempt, err := e.Decide(ctx, "a", 1, cfg, ReasonExit)
	require.NoError(t, err)
	assert.Nil(t, attempt, "disabled trigger must skip")

	cfg = defaultConfig()
	cfg.Policy = PolicyNever
	attempt, err = e.Decide(ctx, "a", 1, cfg, ReasonExit)
	require.NoError(t, err)
	assert.Nil(t, attempt, "never policy must skip")

	cfg = defaultConfig()
	cfg.Enabled = false
	attempt, err = e.Decide(ctx, "a", 1, cfg, ReasonExit)
	require.NoError(t, err)
	assert.Nil(t, attempt, "disabled auto-restart must skip")
}

func TestUnlessStoppedHonorsManualStop(t *testing.T) {
	ctx := context.Background()
	e := New(&fakeStarter{})
	cfg := defaultConfig()
	cfg.Policy = PolicyUnlessStopped

	e.MarkManuallyStopped("a")
	attempt, err := e.Decide(ctx, "a", 1, cfg, ReasonExit)
	require.NoError(t, err)
	assert.Nil(t, attempt)

	e.ClearManualStop("a")
	attempt, err = e.Decide(ctx, "a", 1, cfg, ReasonExit)
	require.NoError(t, err)
	require.NotNil(t, attempt)
	assert.True(t, attempt.Success)
}

func TestRateLimitWithinRollingWindow(t *testing.T) {
	ctx := context.Background()
	e := New(&fakeStarter{})
	cfg := defaultConfig() // maxRestarts=3, window=1m, immediate

	for i := 0; i < 3; i++ {
		attempt, err := e.Decide(ctx, "web", 100, cfg, ReasonExit)
		require.NoError(t, err)
		require.NotNil(t, attempt)
		assert.True(t, attempt.Success)
	}

	_, err := e.Decide(ctx, "web", 100, cfg, ReasonExit)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrRestartRateLimited)
	assert.Len(t, e.History("web"), 3)
}

func TestBackoffComputation(t *testing.T) {
	e := New(&fakeStarter{})
	s := e.stateFor("x")

	cfg := Config{Strategy: StrategyExponential, InitialDelay: time.Second, BackoffMultiplier: 2, MaxDelay: 10 * time.Second}
	var prev time.Duration
	for count := 0; count < 8; count++ {
		s.mu.Lock()
		s.restartCount = count
		s.mu.Unlock()
		d := e.computeDelay(s, cfg)
		assert.GreaterOrEqual(t, d, prev, "exponential delays must be non-decreasing")
		assert.LessOrEqual(t, d, 10*time.Second, "exponential delays must be bounded by maxDelay")
		prev = d
	}

	s.mu.Lock()
	s.restartCount = 2
	s.mu.Unlock()
	assert.Equal(t, time.Duration(0), e.computeDelay(s, Config{Strategy: StrategyImmediate}))
	assert.Equal(t, 3*time.Second, e.computeDelay(s, Config{Strategy: StrategyFixed, InitialDelay: 3 * time.Second}))
	assert.Equal(t, time.Second+2*time.Second, e.computeDelay(s, Config{Strategy: StrategyLinear, InitialDelay: time.Second}))
}

func TestSingleFlightManualRestart(t *testing.T) {
	ctx := context.Background()
	starter := &fakeStarter{delay: 150 * time.Millisecond}
	e := New(starter)

	var inProgressErrs atomic.Int32
	var successes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			attempt, err := e.ManualRestart(ctx, "web", 100)
			if err != nil {
				if errors.Is(err, errs.ErrRestartInProgress) {
					inProgressErrs.Add(1)
				}
				return
			}
			if attempt.Success {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes.Load(), "exactly one in-flight restart")
	assert.EqualValues(t, 1, inProgressErrs.Load(), "second call fails with RestartInProgress")
}

func TestFailedStartIsRecordedNotReturnedAsError(t *testing.T) {
	ctx := context.Background()
	starter := &fakeStarter{startErr: errors.New("spawn failed")}
	e := New(starter)

	attempt, err := e.ManualRestart(ctx, "web", 100)
	require.NoError(t, err)
	require.NotNil(t, attempt)
	assert.False(t, attempt.Success)
	assert.Contains(t, attempt.Error, "spawn failed")

	history := e.History("web")
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
}

func TestMarkManuallyStoppedCancelsScheduledRestart(t *testing.T) {
	ctx := context.Background()
	starter := &fakeStarter{}
	e := New(starter)

	cfg := defaultConfig()
	cfg.Strategy = StrategyFixed
	cfg.InitialDelay = 100 * time.Millisecond

	attempt, err := e.Decide(ctx, "web", 100, cfg, ReasonExit)
	require.NoError(t, err)
	assert.Nil(t, attempt, "delayed restarts are scheduled, not executed inline")

	e.MarkManuallyStopped("web")
	time.Sleep(250 * time.Millisecond)

	assert.Empty(t, e.History("web"), "cancelled schedule must never fire")
}

func TestResetRestartState(t *testing.T) {
	ctx := context.Background()
	e := New(&fakeStarter{})
	_, err := e.ManualRestart(ctx, "web", 100)
	require.NoError(t, err)
	require.NotEmpty(t, e.History("web"))

	e.ResetRestartState("web")
	assert.Empty(t, e.History("web"))
}

func TestHistoryCapAtFifty(t *testing.T) {
	e := New(&fakeStarter{})
	for i := 0; i < 60; i++ {
		e.recordAttempt("web", Attempt{AttemptID: newAttemptID(), Timestamp: time.Now()}, time.Now())
	}
	assert.Len(t, e.History("web"), 50)
}
