package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corectl/supervisor/internal/registry"
)

type captureSink struct {
	events []registry.LifecycleEvent
	err    error
}

func (c *captureSink) Send(_ context.Context, e registry.LifecycleEvent) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, e)
	return nil
}

func TestFanoutDeliversPastFailures(t *testing.T) {
	failing := &captureSink{err: errors.New("down")}
	ok := &captureSink{}
	f := NewFanout(failing, ok)

	err := f.Send(context.Background(), registry.LifecycleEvent{EventID: "e1", Event: registry.EventDiscovered})
	require.NoError(t, err, "one sink failing never fails the fanout")
	assert.Len(t, ok.events, 1)
}

func TestTeeStoreForwardsToSinkAndStore(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	mem := registry.NewMemoryStore()
	tee := TeeStore{Store: mem, Sink: sink}

	ev := registry.LifecycleEvent{EventID: "e1", Event: registry.EventDiscovered, Timestamp: time.Now()}
	require.NoError(t, tee.SaveEvent(ctx, ev))

	assert.Len(t, sink.events, 1)
	stored, err := mem.LoadEvents(ctx, registry.EventQuery{})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestStoreSink(t *testing.T) {
	ctx := context.Background()
	mem := registry.NewMemoryStore()
	s := StoreSink{Store: mem}
	require.NoError(t, s.Send(ctx, registry.LifecycleEvent{EventID: "e1", Event: registry.EventUpdated}))
	events, err := mem.LoadEvents(ctx, registry.EventQuery{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
