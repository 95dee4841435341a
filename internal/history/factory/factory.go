// Package factory creates history sinks from DSN strings.
package factory

import (
	"errors"
	"net/url"
	"strings"

	"github.com/corectl/supervisor/internal/history"
	"github.com/corectl/supervisor/internal/history/clickhouse"
	"github.com/corectl/supervisor/internal/history/opensearch"
)

// NewSinkFromDSN creates a history sink based on DSN format.
// Supported formats:
//   - "clickhouse://host:port?table=table"
//   - "opensearch://host:port/index" (also "elasticsearch://")
//
// Durable event persistence goes through the registry store, not a
// history sink; sinks are analytics export only.
func NewSinkFromDSN(dsn string) (history.Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}

	lower := strings.ToLower(dsn)

	if strings.HasPrefix(lower, "clickhouse://") {
		return parseClickHouseDSN(dsn)
	}
	if strings.HasPrefix(lower, "opensearch://") || strings.HasPrefix(lower, "elasticsearch://") {
		return parseOpenSearchDSN(dsn)
	}

	return nil, errors.New("unsupported DSN format: " + dsn)
}

func parseClickHouseDSN(dsn string) (history.Sink, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}

	host := u.Host
	if host == "" {
		host = "localhost:9000" // default ClickHouse native port
	}

	table := u.Query().Get("table")
	if table == "" {
		table = "lifecycle_events"
	}

	return clickhouse.New(host, table)
}

func parseOpenSearchDSN(dsn string) (history.Sink, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}

	baseURL := "http://" + u.Host
	index := strings.Trim(u.Path, "/")
	if index == "" {
		index = "lifecycle-events"
	}

	return opensearch.New(baseURL, index), nil
}
