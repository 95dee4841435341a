package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corectl/supervisor/internal/platform"
	"github.com/corectl/supervisor/internal/registry"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func snapshotFor(id string, pid int32, lastSeen time.Time) registry.ProcessSnapshot {
	return registry.ProcessSnapshot{
		RegistryID: id,
		Process: registry.RegistryProcess{
			ProcessInfo: platform.ProcessInfo{PID: pid, Name: "web", Status: platform.StatusRunning},
			RegistryID:  id,
			FirstSeen:   lastSeen.Add(-time.Hour),
			LastSeen:    lastSeen,
			SeenCount:   3,
		},
	}
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.SaveSnapshot(ctx, snapshotFor("id-1", 100, now)))
	// Upsert with the same registryId replaces, not duplicates.
	require.NoError(t, db.SaveSnapshot(ctx, snapshotFor("id-1", 101, now)))
	require.NoError(t, db.SaveSnapshot(ctx, snapshotFor("id-2", 200, now)))

	snaps, err := db.LoadSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	byID := map[string]registry.ProcessSnapshot{}
	for _, s := range snaps {
		byID[s.RegistryID] = s
	}
	assert.EqualValues(t, 101, byID["id-1"].Process.PID)
	assert.EqualValues(t, 3, byID["id-1"].Process.SeenCount)
}

func TestEventsNewestFirstWithPaging(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.SaveEvent(ctx, registry.LifecycleEvent{
			EventID:    string(rune('a' + i)),
			RegistryID: "id-1",
			PID:        100,
			Event:      registry.EventUpdated,
			Timestamp:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	events, err := db.LoadEvents(ctx, registry.EventQuery{RegistryID: "id-1"})
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.After(events[i-1].Timestamp), "newest first")
	}

	page, err := db.LoadEvents(ctx, registry.EventQuery{RegistryID: "id-1", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, events[1].EventID, page[0].EventID)
	assert.Equal(t, events[2].EventID, page[1].EventID)
}

func TestEventTimeRangeFilter(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 4; i++ {
		require.NoError(t, db.SaveEvent(ctx, registry.LifecycleEvent{
			EventID:   string(rune('a' + i)),
			Event:     registry.EventUpdated,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	events, err := db.LoadEvents(ctx, registry.EventQuery{Since: base.Add(time.Minute), Until: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestCleanupReportsRemovedRows(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	old := time.Now().UTC().Add(-48 * time.Hour)
	fresh := time.Now().UTC()
	require.NoError(t, db.SaveSnapshot(ctx, snapshotFor("old", 1, old)))
	require.NoError(t, db.SaveSnapshot(ctx, snapshotFor("new", 2, fresh)))
	require.NoError(t, db.SaveEvent(ctx, registry.LifecycleEvent{EventID: "e1", Event: registry.EventDiscovered, Timestamp: old}))
	require.NoError(t, db.SaveEvent(ctx, registry.LifecycleEvent{EventID: "e2", Event: registry.EventDiscovered, Timestamp: fresh}))

	res, err := db.Cleanup(ctx, time.Now().Add(-24*time.Hour), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.RemovedProcesses)
	assert.Equal(t, 1, res.RemovedEvents)

	snaps, err := db.LoadSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "new", snaps[0].RegistryID)
}

func TestMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	require.NoError(t, db.SaveEvent(ctx, registry.LifecycleEvent{
		EventID:   "e1",
		Event:     registry.EventStatusChange,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]string{"reason": "oom"},
	}))

	events, err := db.LoadEvents(ctx, registry.EventQuery{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "oom", events[0].Metadata["reason"])
}
