package platform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockAdapterListAndLookup(t *testing.T) {
	ctx := context.Background()
	a := NewMockAdapter([]ProcessInfo{
		{PID: 100, Name: "web"},
		{PID: 200, Name: "db"},
	})

	list, err := a.GetProcessList(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	info, ok, err := a.GetProcessInfo(ctx, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "web", info.Name)
	assert.Equal(t, StatusRunning, info.Status)

	_, ok, err = a.GetProcessInfo(ctx, 999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMockAdapterSeedAndRemove(t *testing.T) {
	ctx := context.Background()
	a := NewMockAdapter(nil)
	a.Seed(ProcessInfo{PID: 5, Name: "worker"})

	list, err := a.GetProcessList(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	a.Remove(5)
	list, err = a.GetProcessList(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMockAdapterKillSuspendResume(t *testing.T) {
	ctx := context.Background()
	a := NewMockAdapter([]ProcessInfo{{PID: 42, Name: "svc"}})

	require.NoError(t, a.SuspendProcess(ctx, 42))
	info, ok, _ := a.GetProcessInfo(ctx, 42)
	require.True(t, ok)
	assert.Equal(t, StatusStopping, info.Status)

	require.NoError(t, a.ResumeProcess(ctx, 42))
	info, ok, _ = a.GetProcessInfo(ctx, 42)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, info.Status)

	require.NoError(t, a.KillProcess(ctx, 42, SignalKill))
	_, ok, _ = a.GetProcessInfo(ctx, 42)
	assert.False(t, ok)

	sig, ok := a.LastSignal(42)
	assert.True(t, ok)
	assert.Equal(t, SignalKill, sig)

	err := a.KillProcess(ctx, 42, SignalKill)
	assert.Error(t, err)
}

func TestNewSelectionPolicy(t *testing.T) {
	a := New(SelectionMock)
	assert.Equal(t, "mock", a.Name())

	a = New(SelectionAuto)
	assert.NotNil(t, a)
}
