package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corectl/supervisor/internal/platform"
)

func TestRegisterProcessIsIdempotentPerPID(t *testing.T) {
	ctx := context.Background()
	r := New(NewMemoryStore())

	id1, err := r.RegisterProcess(ctx, platform.ProcessInfo{PID: 100, Name: "web", Status: platform.StatusRunning})
	require.NoError(t, err)

	id2, err := r.RegisterProcess(ctx, platform.ProcessInfo{PID: 100, Name: "web", Status: platform.StatusRunning})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	p, ok := r.Get(id1)
	require.True(t, ok)
	assert.EqualValues(t, 2, p.SeenCount)
}

func TestLifecycleEventOrdering(t *testing.T) {
	ctx := context.Background()
	r := New(NewMemoryStore())

	id, err := r.RegisterProcess(ctx, platform.ProcessInfo{PID: 1, Name: "a", Status: platform.StatusRunning})
	require.NoError(t, err)

	require.NoError(t, r.UpdateProcess(ctx, id, platform.ProcessInfo{PID: 1, Name: "a", Status: platform.StatusRunning}))
	require.NoError(t, r.UpdateProcess(ctx, id, platform.ProcessInfo{PID: 1, Name: "a", Status: platform.StatusError}))
	require.NoError(t, r.ManageProcess(ctx, id, ManagementConfig{}))
	require.NoError(t, r.UnregisterProcess(ctx, id))

	snaps := r.Snapshot()
	require.Len(t, snaps, 0) // unregistered processes drop from the live index

	events, err := r.store.LoadEvents(ctx, EventQuery{RegistryID: id})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(events), 1)

	got := make([]EventType, len(events))
	for i, e := range events {
		got[i] = e.Event
	}
	assert.Equal(t, []EventType{EventDisappeared, EventManaged, EventStatusChange, EventUpdated, EventDiscovered}, got, "events load newest first, in mutation order")
}

func TestQueryFilterComposition(t *testing.T) {
	ctx := context.Background()
	r := New(NewMemoryStore())

	id1, _ := r.RegisterProcess(ctx, platform.ProcessInfo{PID: 1, Name: "web-a", User: "alice", CPU: 80, Status: platform.StatusRunning})
	_, _ = r.RegisterProcess(ctx, platform.ProcessInfo{PID: 2, Name: "db-b", User: "bob", CPU: 10, Status: platform.StatusRunning})

	all := r.Find(Query{})
	assert.Len(t, all, 2)

	filtered := r.Find(Query{NameContains: "web", MinCPU: 50})
	require.Len(t, filtered, 1)
	assert.Equal(t, id1, filtered[0].RegistryID)

	none := r.Find(Query{User: "carol"})
	assert.Empty(t, none)
}

func TestTaggingIsASet(t *testing.T) {
	ctx := context.Background()
	r := New(NewMemoryStore())
	id, _ := r.RegisterProcess(ctx, platform.ProcessInfo{PID: 1, Name: "web"})

	require.NoError(t, r.TagProcess(id, "system"))
	require.NoError(t, r.TagProcess(id, "system"))

	p, _ := r.Get(id)
	assert.Len(t, p.Tags, 1)

	require.NoError(t, r.UntagProcess(id, "system"))
	require.NoError(t, r.UntagProcess(id, "system")) // idempotent no-op

	p, _ = r.Get(id)
	assert.Empty(t, p.Tags)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := New(NewMemoryStore())
	id, _ := r.RegisterProcess(ctx, platform.ProcessInfo{PID: 1, Name: "web"})
	require.NoError(t, r.TagProcess(id, "system"))

	before := r.Find(Query{})

	snap := r.Snapshot()
	r2 := New(NewMemoryStore())
	require.NoError(t, r2.Restore(snap))

	after := r2.Find(Query{})
	require.Equal(t, len(before), len(after))
	assert.Equal(t, before[0].RegistryID, after[0].RegistryID)
	assert.Equal(t, before[0].Tags, after[0].Tags)
}

func TestUnregisterThenReregisterAllocatesNewRegistryID(t *testing.T) {
	ctx := context.Background()
	r := New(NewMemoryStore())

	id1, _ := r.RegisterProcess(ctx, platform.ProcessInfo{PID: 7, Name: "web"})
	require.NoError(t, r.UnregisterProcess(ctx, id1))

	id2, _ := r.RegisterProcess(ctx, platform.ProcessInfo{PID: 7, Name: "web"})
	assert.NotEqual(t, id1, id2)
}

func TestCleanupDropsStaleProcesses(t *testing.T) {
	ctx := context.Background()
	r := New(NewMemoryStore())
	id, _ := r.RegisterProcess(ctx, platform.ProcessInfo{PID: 1, Name: "web"})

	p := r.byID[id]
	p.LastSeen = time.Now().Add(-48 * time.Hour)

	res, err := r.Cleanup(ctx, 24*time.Hour, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RemovedProcesses)

	_, ok := r.Get(id)
	assert.False(t, ok)
}
