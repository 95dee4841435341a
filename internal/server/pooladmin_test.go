package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corectl/supervisor/internal/poolmgr"
)

func TestPoolAdminLifecycle(t *testing.T) {
	mgr := poolmgr.New()
	t.Cleanup(func() { mgr.Shutdown(time.Second) })
	h := NewPoolAdmin(mgr).Handler()

	body := `{"Name":"batch","MinWorkers":1,"MaxWorkers":2,"MaxQueueSize":4}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/pools", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pools", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pools/"+created.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	taskBody := `{"Command":"true"}`
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/pools/"+created.ID+"/tasks", strings.NewReader(taskBody))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/pools/"+created.ID+"/scale?target=2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pools/"+created.ID+"/workers", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/pools/"+created.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pools/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPoolAdminRejectsInvalidConfig(t *testing.T) {
	mgr := poolmgr.New()
	h := NewPoolAdmin(mgr).Handler()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/pools", strings.NewReader(`{"Name":""}`))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
