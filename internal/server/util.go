package server

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/corectl/supervisor/internal/platform"
	"github.com/corectl/supervisor/internal/registry"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// isSafeName validates identifiers arriving in query params to avoid
// path traversal when echoed into filenames or logs.
// Allowed characters: A-Z a-z 0-9 . _ - and no consecutive dots forming "..".
func isSafeName(s string) bool {
	if s == "" {
		return false
	}
	if strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	if strings.ContainsAny(s, "/\\") {
		return false
	}
	return true
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

// parseQuery builds a registry.Query from request query params. Every
// parameter is optional; malformed numerics are ignored rather than
// rejected, keeping filters total.
func parseQuery(c *gin.Context) registry.Query {
	var q registry.Query
	q.NameContains = c.Query("name")
	q.User = c.Query("user")
	q.CommandContains = c.Query("command")
	if s := c.Query("status"); s != "" {
		q.Status = platform.ProcessStatus(s)
	}
	if s := c.Query("min_cpu"); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			q.MinCPU = v
		}
	}
	if s := c.Query("min_memory"); s != "" {
		if v, err := strconv.ParseUint(s, 10, 64); err == nil {
			q.MinMemory = v
		}
	}
	if tags := c.Query("tags"); tags != "" {
		q.Tags = strings.Split(tags, ",")
	}
	if s := c.Query("managed"); s != "" {
		if v, err := strconv.ParseBool(s); err == nil {
			q.IsManaged = &v
		}
	}
	if s := c.Query("seen_since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			q.LastSeenAfter = t
		}
	}
	if s := c.Query("min_seen_count"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			q.MinSeenCount = v
		}
	}
	return q
}
