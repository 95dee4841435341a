// Package opensearch sends lifecycle events to OpenSearch via HTTP.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/corectl/supervisor/internal/registry"
)

// Sink constructs URL as: baseURL + "/" + index + "/_doc" and POSTs the
// event as a JSON document.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	c := &http.Client{Timeout: 5 * time.Second}
	return &Sink{client: c, baseURL: strings.TrimRight(baseURL, "/"), index: index}
}

func (s *Sink) Send(ctx context.Context, e registry.LifecycleEvent) error {
	u := fmt.Sprintf("%s/%s/_doc", s.baseURL, s.index)
	doc := map[string]any{
		"event_id":    e.EventID,
		"registry_id": e.RegistryID,
		"pid":         e.PID,
		"event":       string(e.Event),
		"timestamp":   e.Timestamp,
		"prev_status": string(e.PreviousStatus),
		"new_status":  string(e.NewStatus),
		"metadata":    e.Metadata,
	}
	b, _ := json.Marshal(doc)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}
