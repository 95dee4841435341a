//go:build integration

package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"github.com/corectl/supervisor/internal/registry"
)

// Requires a local container runtime. Run with: go test -tags integration ./internal/history/clickhouse
func TestClickHouseSinkSend(t *testing.T) {
	ctx := context.Background()

	container, err := tcclickhouse.Run(ctx, "clickhouse/clickhouse-server:24-alpine",
		tcclickhouse.WithDatabase("default"),
		tcclickhouse.WithUsername("default"),
		tcclickhouse.WithPassword(""),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	addr, err := container.ConnectionHost(ctx)
	require.NoError(t, err)

	sink, err := New(addr, "lifecycle_events")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	err = sink.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS lifecycle_events (
		event_id String,
		registry_id String,
		pid Int32,
		event String,
		ts DateTime64(3),
		prev_status String,
		new_status String
	) ENGINE = MergeTree ORDER BY ts`)
	require.NoError(t, err)

	require.NoError(t, sink.Send(ctx, registry.LifecycleEvent{
		EventID:    "e1",
		RegistryID: "id-1",
		PID:        100,
		Event:      registry.EventDiscovered,
		Timestamp:  time.Now(),
	}))
}
