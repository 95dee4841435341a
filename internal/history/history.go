// Package history exports registry lifecycle events to external
// analytics/statistics systems.
package history

import (
	"context"
	"log/slog"

	"github.com/corectl/supervisor/internal/registry"
)

// Sink is a destination for lifecycle events. Implementations must be
// safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e registry.LifecycleEvent) error
}

// Fanout delivers each event to every sink, best-effort: one sink's
// failure never blocks the others.
type Fanout struct {
	sinks []Sink
}

// NewFanout wraps sinks into one Sink.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Send(ctx context.Context, e registry.LifecycleEvent) error {
	for _, s := range f.sinks {
		if err := s.Send(ctx, e); err != nil {
			slog.Warn("history sink send failed", "event", e.Event, "registryId", e.RegistryID, "error", err)
		}
	}
	return nil
}

// StoreSink adapts a registry.Store so lifecycle events can be exported
// to the same backend that persists registry state.
type StoreSink struct {
	Store registry.Store
}

func (s StoreSink) Send(ctx context.Context, e registry.LifecycleEvent) error {
	return s.Store.SaveEvent(ctx, e)
}

// TeeStore wraps a registry.Store so every saved event is also exported
// to a Sink. Sink failures are logged by Fanout, never propagated into
// the registry's write path.
type TeeStore struct {
	registry.Store
	Sink Sink
}

func (t TeeStore) SaveEvent(ctx context.Context, e registry.LifecycleEvent) error {
	if t.Sink != nil {
		_ = t.Sink.Send(ctx, e)
	}
	return t.Store.SaveEvent(ctx, e)
}
