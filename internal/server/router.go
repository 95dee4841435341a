// Package server exposes the supervisor API over HTTP: a gin router for
// the core surface and an echo sub-API for pool administration.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	supervisor "github.com/corectl/supervisor"
	"github.com/corectl/supervisor/internal/auth"
	"github.com/corectl/supervisor/internal/config"
	"github.com/corectl/supervisor/internal/errs"
	"github.com/corectl/supervisor/internal/metrics"
	"github.com/corectl/supervisor/internal/platform"
	tlsutil "github.com/corectl/supervisor/internal/tls"
)

// Router provides embeddable HTTP handlers over a Supervisor.
// Endpoints (relative to basePath):
//
//	GET  /processes            adapter snapshot
//	GET  /processes/tree       ppid forest
//	GET  /registry             registry query (see parseQuery)
//	GET  /registry/:id         single registry entry
//	GET  /registry/:id/events  lifecycle events, newest first
//	POST /registry/:id/tags    add tag     query: tag=...
//	DELETE /registry/:id/tags  remove tag  query: tag=...
//	POST /processes/:pid/kill  query: signal=TERM
//	POST /processes/:pid/suspend | /resume
//	GET  /metrics/system       latest sample
//	GET  /metrics/history      ring buffer contents
//	GET  /metrics/aggregate    query: since=RFC3339&until=RFC3339
//	POST /supervision/:id      install supervision (SupervisionConfig JSON)
//	DELETE /supervision/:id    stop supervision
//	POST /supervision/:id/check  trigger checks now
//	POST /supervision/:id/restart manual restart
//	GET  /supervision/:id      health state
//	GET  /supervision/stats    aggregate stats
//	GET  /prometheus           Prometheus exposition
type Router struct {
	sup         *supervisor.Supervisor
	basePath    string
	authService *auth.Service
}

// NewRouter constructs a Router with configurable basePath.
func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath)}
}

// WithAuth installs bearer-token auth on all routes except /auth/login.
func (r *Router) WithAuth(svc *auth.Service) *Router {
	r.authService = svc
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)

	if r.authService != nil {
		group.POST("/auth/login", r.handleLogin)
		group.Use(auth.Middleware(r.authService))
	}

	group.GET("/processes", r.handleProcessList)
	group.GET("/processes/tree", r.handleProcessTree)
	group.POST("/processes/:pid/kill", r.handleKill)
	group.POST("/processes/:pid/suspend", r.handleSuspend)
	group.POST("/processes/:pid/resume", r.handleResume)

	group.GET("/registry", r.handleRegistryQuery)
	group.GET("/registry/:id", r.handleRegistryGet)
	group.GET("/registry/:id/events", r.handleRegistryEvents)
	group.POST("/registry/:id/tags", r.handleTag)
	group.DELETE("/registry/:id/tags", r.handleUntag)

	group.GET("/metrics/system", r.handleSystemMetrics)
	group.GET("/metrics/history", r.handleMetricsHistory)
	group.GET("/metrics/aggregate", r.handleMetricsAggregate)
	group.GET("/prometheus", gin.WrapH(metrics.Handler()))

	group.POST("/supervision/:id", r.handleSupervise)
	group.DELETE("/supervision/:id", r.handleUnsupervise)
	group.GET("/supervision/:id", r.handleHealthState)
	group.POST("/supervision/:id/check", r.handleTriggerCheck)
	group.POST("/supervision/:id/restart", r.handleRestart)
	group.GET("/supervision/stats", r.handleHealthStats)

	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, sup *supervisor.Supervisor) (*http.Server, error) {
	r := NewRouter(sup, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return startServer(server, false)
}

// NewTLSServer starts a standalone HTTPS server using the server config's
// TLS settings (falling back to plain HTTP when TLS is not enabled).
func NewTLSServer(serverConfig config.ServerConfig, sup *supervisor.Supervisor) (*http.Server, error) {
	r := NewRouter(sup, serverConfig.BasePath)

	tlsConfig, err := tlsutil.SetupTLS(serverConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to setup TLS: %w", err)
	}

	server := &http.Server{
		Addr:              serverConfig.Listen,
		Handler:           r.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return startServer(server, tlsConfig != nil)
}

// startServer launches the listener in a goroutine and surfaces immediate
// bind errors to the caller.
func startServer(server *http.Server, useTLS bool) (*http.Server, error) {
	serverErrCh := make(chan error, 1)
	go func() {
		var err error
		if useTLS {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
		close(serverErrCh)
	}()

	select {
	case err := <-serverErrCh:
		if err != nil {
			return nil, err
		}
	case <-time.After(100 * time.Millisecond):
		// Server started successfully or no immediate error
	}
	return server, nil
}

// --- handlers ---

func (r *Router) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, gin.H{"error": "invalid login request"})
		return
	}
	res, err := r.authService.Authenticate(c.Request.Context(), req)
	if err != nil {
		writeJSON(c, http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleProcessList(c *gin.Context) {
	procs, err := r.sup.GetProcessList(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, procs)
}

func (r *Router) handleProcessTree(c *gin.Context) {
	tree, err := r.sup.GetProcessTree(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, tree)
}

func pidParam(c *gin.Context) (int32, bool) {
	v, err := strconv.ParseInt(c.Param("pid"), 10, 32)
	if err != nil || v <= 0 {
		writeJSON(c, http.StatusBadRequest, gin.H{"error": "invalid pid"})
		return 0, false
	}
	return int32(v), true
}

func (r *Router) handleKill(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	sig := c.DefaultQuery("signal", string(platform.SignalTerm))
	if !isSafeName(sig) {
		writeJSON(c, http.StatusBadRequest, gin.H{"error": "invalid signal"})
		return
	}
	if err := r.sup.KillProcess(c.Request.Context(), pid, platform.Signal(sig)); err != nil {
		writeJSON(c, http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleSuspend(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	if err := r.sup.SuspendProcess(c.Request.Context(), pid); err != nil {
		writeJSON(c, http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleResume(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	if err := r.sup.ResumeProcess(c.Request.Context(), pid); err != nil {
		writeJSON(c, http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleRegistryQuery(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.FindProcesses(parseQuery(c)))
}

func (r *Router) handleRegistryGet(c *gin.Context) {
	p, ok := r.sup.Registry().Get(c.Param("id"))
	if !ok {
		writeJSON(c, http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (r *Router) handleRegistryEvents(c *gin.Context) {
	limit := 100
	if s := c.Query("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	events := r.sup.Registry().Events(c.Param("id"), limit)
	writeJSON(c, http.StatusOK, events)
}

func (r *Router) handleTag(c *gin.Context) {
	tag := c.Query("tag")
	if !isSafeName(tag) {
		writeJSON(c, http.StatusBadRequest, gin.H{"error": "invalid tag"})
		return
	}
	if err := r.sup.Registry().TagProcess(c.Param("id"), tag); err != nil {
		writeRegistryError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleUntag(c *gin.Context) {
	tag := c.Query("tag")
	if !isSafeName(tag) {
		writeJSON(c, http.StatusBadRequest, gin.H{"error": "invalid tag"})
		return
	}
	if err := r.sup.Registry().UntagProcess(c.Param("id"), tag); err != nil {
		writeRegistryError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func writeRegistryError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrProcessNotFound):
		code = http.StatusNotFound
	case errors.Is(err, errs.ErrRegistryValidation):
		code = http.StatusBadRequest
	}
	writeJSON(c, code, gin.H{"error": err.Error()})
}

func (r *Router) handleSystemMetrics(c *gin.Context) {
	m, err := r.sup.GetSystemMetrics(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, m)
}

func (r *Router) handleMetricsHistory(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.GetMetricsHistory())
}

func (r *Router) handleMetricsAggregate(c *gin.Context) {
	since, err := time.Parse(time.RFC3339, c.Query("since"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, gin.H{"error": "invalid since"})
		return
	}
	until := time.Now()
	if s := c.Query("until"); s != "" {
		until, err = time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, gin.H{"error": "invalid until"})
			return
		}
	}
	agg, err := r.sup.GetAggregatedMetrics(since, until)
	if err != nil {
		writeJSON(c, http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, agg)
}

// superviseRequest is the JSON body for POST /supervision/:id.
type superviseRequest struct {
	Checks      []config.HealthCheckEntry `json:"checks"`
	AutoRestart *config.AutoRestartConfig `json:"auto_restart"`
}

func (r *Router) handleSupervise(c *gin.Context) {
	var req superviseRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	var cfg supervisor.SupervisionConfig
	for _, e := range req.Checks {
		check, err := e.ToCheck()
		if err != nil {
			writeJSON(c, http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cfg.Checks = append(cfg.Checks, check)
	}
	if req.AutoRestart != nil {
		cfg.AutoRestart = req.AutoRestart.ToEngineConfig()
	}
	if err := r.sup.StartSupervision(c.Param("id"), cfg); err != nil {
		writeRegistryError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleUnsupervise(c *gin.Context) {
	r.sup.StopSupervision(c.Param("id"))
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleHealthState(c *gin.Context) {
	st, ok := r.sup.HealthState(c.Param("id"))
	if !ok {
		writeJSON(c, http.StatusNotFound, gin.H{"error": "not under supervision"})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleTriggerCheck(c *gin.Context) {
	results, err := r.sup.TriggerHealthCheck(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeRegistryError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, results)
}

func (r *Router) handleRestart(c *gin.Context) {
	attempt, err := r.sup.RestartProcess(c.Request.Context(), c.Param("id"))
	if err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, errs.ErrProcessNotFound):
			code = http.StatusNotFound
		case errors.Is(err, errs.ErrRestartInProgress):
			code = http.StatusConflict
		}
		writeJSON(c, code, gin.H{"error": err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, attempt)
}

func (r *Router) handleHealthStats(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.HealthStats())
}
