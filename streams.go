package supervisor

import (
	"context"
	"time"
)

// Stream is a pull-based lazy sequence fed by periodic adapter polling.
// Values arrive on C until Close is called; slow consumers miss
// intermediate values rather than blocking the poller.
type Stream[T any] struct {
	C      <-chan T
	cancel context.CancelFunc
}

// Close cancels the underlying poller. Safe to call more than once.
func (s *Stream[T]) Close() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

const streamBuffer = 8

func newStream[T any](ctx context.Context, interval time.Duration, poll func(context.Context) (T, bool)) *Stream[T] {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan T, streamBuffer)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				v, ok := poll(ctx)
				if !ok {
					continue
				}
				select {
				case ch <- v:
				default: // drop for slow consumers
				}
			}
		}
	}()

	return &Stream[T]{C: ch, cancel: cancel}
}

// SubscribeToProcessUpdates emits a full process snapshot every
// refreshInterval.
func (s *Supervisor) SubscribeToProcessUpdates(ctx context.Context) *Stream[[]ProcessInfo] {
	return newStream(ctx, s.cfg.RefreshInterval, func(ctx context.Context) ([]ProcessInfo, bool) {
		procs, err := s.adapter.GetProcessList(ctx)
		if err != nil {
			return nil, false
		}
		return procs, true
	})
}

// SubscribeToMetrics emits a system metrics sample every refreshInterval.
func (s *Supervisor) SubscribeToMetrics(ctx context.Context) *Stream[SystemMetrics] {
	return newStream(ctx, s.cfg.RefreshInterval, func(ctx context.Context) (SystemMetrics, bool) {
		m, err := s.adapter.GetSystemMetrics(ctx)
		if err != nil {
			return SystemMetrics{}, false
		}
		return m, true
	})
}

// WatchProcess emits updates for one pid every refreshInterval until the
// process disappears or the stream is closed.
func (s *Supervisor) WatchProcess(ctx context.Context, pid int32) *Stream[ProcessInfo] {
	return newStream(ctx, s.cfg.RefreshInterval, func(ctx context.Context) (ProcessInfo, bool) {
		info, ok, err := s.adapter.GetProcessInfo(ctx, pid)
		if err != nil || !ok {
			return ProcessInfo{}, false
		}
		return info, true
	})
}
