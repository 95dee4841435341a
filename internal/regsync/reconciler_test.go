package regsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corectl/supervisor/internal/platform"
	"github.com/corectl/supervisor/internal/registry"
)

func TestReconcileOnceDiscoversAndTracksProcesses(t *testing.T) {
	ctx := context.Background()
	adapter := platform.NewMockAdapter([]platform.ProcessInfo{
		{PID: 100, Name: "web"},
		{PID: 200, Name: "db"},
	})
	reg := registry.New(registry.NewMemoryStore())
	rec := New(DefaultConfig(), adapter, reg)

	require.NoError(t, rec.ReconcileOnce(ctx))

	all := reg.Find(registry.Query{})
	assert.Len(t, all, 2)
	for _, p := range all {
		assert.EqualValues(t, 1, p.SeenCount)
	}
}

func TestReconcileEmitsDisappearedAfterDeadProcessTimeout(t *testing.T) {
	ctx := context.Background()
	adapter := platform.NewMockAdapter([]platform.ProcessInfo{
		{PID: 100, Name: "web"},
		{PID: 200, Name: "db"},
	})
	reg := registry.New(registry.NewMemoryStore())
	cfg := DefaultConfig()
	cfg.DeadProcessTimeout = 0 // immediate reap for test determinism
	rec := New(cfg, adapter, reg)

	require.NoError(t, rec.ReconcileOnce(ctx))
	dbID, ok := reg.GetByPID(200)
	require.True(t, ok)

	adapter.Remove(200)
	time.Sleep(time.Millisecond)
	require.NoError(t, rec.ReconcileOnce(ctx))

	_, ok = reg.Get(dbID)
	assert.False(t, ok)
}

func TestReconcileOnceSkipsWhileInFlight(t *testing.T) {
	ctx := context.Background()
	adapter := platform.NewMockAdapter([]platform.ProcessInfo{{PID: 1, Name: "a"}})
	reg := registry.New(registry.NewMemoryStore())
	rec := New(DefaultConfig(), adapter, reg)

	rec.ticking.Store(true)
	require.NoError(t, rec.ReconcileOnce(ctx)) // returns nil immediately, no panic
	rec.ticking.Store(false)
}

func TestReconcileIncrementsSyncErrorCountOnAdapterFailure(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(registry.NewMemoryStore())
	rec := New(DefaultConfig(), failingAdapter{}, reg)

	err := rec.ReconcileOnce(ctx)
	assert.Error(t, err)
	assert.EqualValues(t, 1, rec.SyncErrorCount())
}

// failingAdapter implements platform.Adapter and always fails listing, to
// exercise the reconciler's error-counting path.
type failingAdapter struct{}

func (failingAdapter) Name() string { return "failing" }
func (failingAdapter) GetProcessList(context.Context) ([]platform.ProcessInfo, error) {
	return nil, assertErr
}
func (failingAdapter) GetProcessInfo(context.Context, int32) (platform.ProcessInfo, bool, error) {
	return platform.ProcessInfo{}, false, assertErr
}
func (failingAdapter) GetSystemMetrics(context.Context) (platform.SystemMetrics, error) {
	return platform.SystemMetrics{}, assertErr
}
func (failingAdapter) KillProcess(context.Context, int32, platform.Signal) error { return assertErr }
func (failingAdapter) SuspendProcess(context.Context, int32) error              { return assertErr }
func (failingAdapter) ResumeProcess(context.Context, int32) error               { return assertErr }

var assertErr = context.DeadlineExceeded
