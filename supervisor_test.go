package supervisor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corectl/supervisor/internal/config"
	"github.com/corectl/supervisor/internal/errs"
	"github.com/corectl/supervisor/internal/platform"
	"github.com/corectl/supervisor/internal/registry"
	"github.com/corectl/supervisor/internal/restart"
)

func testConfig() config.Config {
	cfg, _ := config.LoadDefaults()
	cfg.PlatformAdapter = "mock"
	cfg.RefreshInterval = 200 * time.Millisecond
	cfg.EnableProcessTree = true
	cfg.EnableAutoRestart = true
	cfg.EnableIPC = true
	cfg.EnablePooling = true
	cfg.MonitorSystemMetrics = false
	return *cfg
}

func newTestSupervisor(t *testing.T, seed []platform.ProcessInfo, opts ...Option) (*Supervisor, *platform.MockAdapter) {
	t.Helper()
	adapter := platform.NewMockAdapter(seed)
	sup, err := New(testConfig(), append([]Option{WithAdapter(adapter)}, opts...)...)
	require.NoError(t, err)
	return sup, adapter
}

func TestSyncDiscoversAndReapsProcesses(t *testing.T) {
	ctx := context.Background()
	sup, adapter := newTestSupervisor(t, []platform.ProcessInfo{
		{PID: 100, Name: "web"},
		{PID: 200, Name: "db"},
	})

	require.NoError(t, sup.SyncOnce(ctx))

	all := sup.FindProcesses(Query{})
	require.Len(t, all, 2)
	for _, p := range all {
		assert.EqualValues(t, 1, p.SeenCount)
		events := sup.Registry().Events(p.RegistryID, 0)
		require.NotEmpty(t, events)
		assert.Equal(t, registry.EventDiscovered, events[len(events)-1].Event)
	}

	dbID, ok := sup.Registry().GetByPID(200)
	require.True(t, ok)

	// Remove the db process; after the dead-process timeout the next sync
	// unregisters it with a disappeared event.
	adapter.Remove(200)
	require.NoError(t, sup.SyncOnce(ctx))
	time.Sleep(3*testConfig().RefreshInterval + 50*time.Millisecond)
	require.NoError(t, sup.SyncOnce(ctx))

	_, present := sup.Registry().Get(dbID)
	assert.False(t, present)
	events := sup.Registry().Events(dbID, 0)
	require.NotEmpty(t, events)
	assert.Equal(t, registry.EventDisappeared, events[0].Event)
}

// countingStarter avoids spawning real processes during restart tests.
type countingStarter struct {
	starts int
	pid    int32
}

func (c *countingStarter) StopProcess(context.Context, string, time.Duration) error { return nil }
func (c *countingStarter) StartProcess(context.Context, string) (int32, error) {
	c.starts++
	c.pid++
	return 5000 + c.pid, nil
}

func TestManualRestartSingleFlightAndHistory(t *testing.T) {
	ctx := context.Background()
	starter := &countingStarter{}
	sup, _ := newTestSupervisor(t, []platform.ProcessInfo{{PID: 100, Name: "web"}}, WithRestartStarter(starter))

	require.NoError(t, sup.SyncOnce(ctx))
	id, ok := sup.Registry().GetByPID(100)
	require.True(t, ok)

	attempt, err := sup.RestartProcess(ctx, id)
	require.NoError(t, err)
	assert.True(t, attempt.Success)
	assert.NotZero(t, attempt.NewPID)
	assert.Len(t, sup.RestartHistory(id), 1)

	_, err = sup.RestartProcess(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrProcessNotFound)
}

func TestSupervisionLifecycle(t *testing.T) {
	ctx := context.Background()
	sup, adapter := newTestSupervisor(t, []platform.ProcessInfo{{PID: 100, Name: "web"}})

	require.NoError(t, sup.SyncOnce(ctx))
	id, _ := sup.Registry().GetByPID(100)

	require.NoError(t, sup.StartSupervision(id, SupervisionConfig{
		Checks: []HealthCheck{{Type: "processExists", Enabled: true, Interval: time.Second, Timeout: time.Second}},
		AutoRestart: RestartConfig{
			Enabled:                     true,
			Policy:                      restart.PolicyOnFailure,
			RestartOnHealthCheckFailure: true,
		},
	}))

	results, err := sup.TriggerHealthCheck(ctx, id)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.EqualValues(t, "healthy", results[0].Status)

	adapter.Remove(100)
	results, err = sup.TriggerHealthCheck(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, "unhealthy", results[0].Status)

	sup.StopSupervision(id)
	_, err = sup.TriggerHealthCheck(ctx, id)
	assert.Error(t, err)
}

func TestAggregatedMetrics(t *testing.T) {
	ctx := context.Background()
	sup, _ := newTestSupervisor(t, nil)

	start := time.Now().Add(-time.Second)
	for i := 0; i < 3; i++ {
		_, err := sup.GetSystemMetrics(ctx)
		require.NoError(t, err)
	}

	agg, err := sup.GetAggregatedMetrics(start, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 3, agg.SampleCount)

	_, err = sup.GetAggregatedMetrics(start.Add(-time.Hour), start.Add(-time.Hour).Add(time.Millisecond))
	assert.Error(t, err, "empty range must fail")
}

func TestProcessTree(t *testing.T) {
	ctx := context.Background()
	sup, _ := newTestSupervisor(t, []platform.ProcessInfo{
		{PID: 1, PPID: 0, Name: "init"},
		{PID: 10, PPID: 1, Name: "child"},
		{PID: 20, PPID: 999, Name: "orphan"}, // parent absent -> root
	})

	roots, err := sup.GetProcessTree(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.EqualValues(t, 1, roots[0].Info.PID)
	require.Len(t, roots[0].Children, 1)
	assert.EqualValues(t, 10, roots[0].Children[0].Info.PID)
	assert.EqualValues(t, 20, roots[1].Info.PID)
}

func TestProcessTreeDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableProcessTree = false
	sup, err := New(cfg, WithAdapter(platform.NewMockAdapter(nil)))
	require.NoError(t, err)
	_, err = sup.GetProcessTree(context.Background())
	assert.Error(t, err)
}

func TestIPCFacade(t *testing.T) {
	ctx := context.Background()
	sup, _ := newTestSupervisor(t, nil)

	id100, err := sup.RegisterProcessForIPC(100, func(m IPCMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "process-100", id100)

	id200, err := sup.RegisterProcessForIPC(200, nil)
	require.NoError(t, err)

	delivered, err := sup.BroadcastIPCMessage(json.RawMessage(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	resp, err := sup.RequestIPCResponse(ctx, id100, json.RawMessage(`{}`), time.Second)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	// Target registered but never responds: timeout error.
	_, err = sup.RequestIPCResponse(ctx, id200, json.RawMessage(`{}`), 200*time.Millisecond)
	assert.ErrorIs(t, err, errs.ErrIPCTimeout)

	conns, err := sup.GetIPCConnections()
	require.NoError(t, err)
	assert.Len(t, conns, 2)

	require.NoError(t, sup.UnregisterProcessFromIPC(id200))
	conns, _ = sup.GetIPCConnections()
	assert.Len(t, conns, 1)
}

func TestIPCDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableIPC = false
	sup, err := New(cfg, WithAdapter(platform.NewMockAdapter(nil)))
	require.NoError(t, err)
	_, err = sup.RegisterProcessForIPC(1, nil)
	assert.Error(t, err)
}

func TestPoolFacade(t *testing.T) {
	ctx := context.Background()
	sup, _ := newTestSupervisor(t, nil)

	poolID, err := sup.CreatePool(ctx, PoolConfig{
		Name:                "batch",
		MinWorkers:          1,
		MaxWorkers:          2,
		MaxQueueSize:        4,
		HealthCheckInterval: time.Hour,
		WorkerIdleTimeout:   time.Hour,
	})
	require.NoError(t, err)

	taskID, err := sup.SubmitTaskToPool(poolID, PoolTask{Command: "true"})
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m, err := sup.GetPoolStatus(poolID)
		require.NoError(t, err)
		if m.TotalCompleted == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	m, err := sup.GetPoolStatus(poolID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.TotalCompleted)

	require.NoError(t, sup.ScalePool(poolID, 2))
	require.NoError(t, sup.RemovePool(poolID, time.Second))
	_, err = sup.GetPoolStatus(poolID)
	assert.ErrorIs(t, err, errs.ErrPoolNotFound)
}

func TestStreamsDeliverAndClose(t *testing.T) {
	ctx := context.Background()
	sup, _ := newTestSupervisor(t, []platform.ProcessInfo{{PID: 100, Name: "web"}})

	s := sup.SubscribeToProcessUpdates(ctx)
	select {
	case procs := <-s.C:
		require.Len(t, procs, 1)
		assert.EqualValues(t, 100, procs[0].PID)
	case <-time.After(2 * time.Second):
		t.Fatal("no process update received")
	}
	s.Close()

	w := sup.WatchProcess(ctx, 100)
	select {
	case info := <-w.C:
		assert.EqualValues(t, 100, info.PID)
	case <-time.After(2 * time.Second):
		t.Fatal("no watch update received")
	}
	w.Close()
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	sup, _ := newTestSupervisor(t, []platform.ProcessInfo{
		{PID: 100, Name: "web"},
		{PID: 200, Name: "db"},
	})
	require.NoError(t, sup.SyncOnce(ctx))

	id, _ := sup.Registry().GetByPID(100)
	require.NoError(t, sup.Registry().TagProcess(id, "frontend"))

	snaps := sup.Registry().Snapshot()
	before := sup.FindProcesses(Query{})

	fresh := registry.New(registry.NewMemoryStore())
	require.NoError(t, fresh.Restore(snaps))

	after := fresh.Find(registry.Query{})
	assert.ElementsMatch(t, idsOf(before), idsOf(after))
	assert.Len(t, fresh.GetProcessesByTag("frontend"), 1)
}

func idsOf(ps []RegistryProcess) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.RegistryID)
	}
	return out
}

func TestMockFallbackDisabledFailsOnMockSelection(t *testing.T) {
	cfg := testConfig()
	cfg.PlatformAdapter = "mock"
	no := false
	cfg.AllowMockFallback = &no
	_, err := New(cfg)
	assert.Error(t, err)
}
