package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/corectl/supervisor/internal/pool"
	"github.com/corectl/supervisor/internal/poolmgr"
)

// PoolAdmin is the worker-pool administration sub-API, served by echo and
// mounted separately from the core gin router.
//
//	GET    /pools              list pools with metrics
//	POST   /pools              create pool (pool.Config JSON)
//	DELETE /pools/:id          drain and remove
//	GET    /pools/:id          metrics for one pool
//	POST   /pools/:id/tasks    submit task (pool.Task JSON)
//	GET    /pools/:id/tasks/:task  task status
//	POST   /pools/:id/scale    query: target=N
//	GET    /pools/:id/workers  worker list
type PoolAdmin struct {
	mgr *poolmgr.Manager
}

// NewPoolAdmin wraps mgr.
func NewPoolAdmin(mgr *poolmgr.Manager) *PoolAdmin {
	return &PoolAdmin{mgr: mgr}
}

// Handler returns the echo-powered http.Handler.
func (a *PoolAdmin) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/pools", a.handleList)
	e.POST("/pools", a.handleCreate)
	e.GET("/pools/:id", a.handleStatus)
	e.DELETE("/pools/:id", a.handleRemove)
	e.POST("/pools/:id/tasks", a.handleSubmit)
	e.GET("/pools/:id/tasks/:task", a.handleTaskStatus)
	e.POST("/pools/:id/scale", a.handleScale)
	e.GET("/pools/:id/workers", a.handleWorkers)

	return e
}

type poolSummary struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Metrics pool.Metrics `json:"metrics"`
}

func (a *PoolAdmin) handleList(c echo.Context) error {
	pools := a.mgr.Pools()
	out := make([]poolSummary, 0, len(pools))
	for _, p := range pools {
		out = append(out, poolSummary{ID: p.ID(), Name: p.Name(), Metrics: p.Metrics()})
	}
	return c.JSON(http.StatusOK, out)
}

func (a *PoolAdmin) handleCreate(c echo.Context) error {
	var cfg pool.Config
	if err := c.Bind(&cfg); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid pool config"})
	}
	p, err := a.mgr.CreatePool(c.Request().Context(), cfg)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": p.ID()})
}

func (a *PoolAdmin) handleStatus(c echo.Context) error {
	p, ok := a.mgr.GetPool(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "pool not found"})
	}
	return c.JSON(http.StatusOK, poolSummary{ID: p.ID(), Name: p.Name(), Metrics: p.Metrics()})
}

func (a *PoolAdmin) handleRemove(c echo.Context) error {
	if err := a.mgr.RemovePool(c.Param("id"), 10*time.Second); err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

func (a *PoolAdmin) handleSubmit(c echo.Context) error {
	var t pool.Task
	if err := c.Bind(&t); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid task"})
	}
	id, err := a.mgr.SubmitTask(c.Param("id"), t)
	if err != nil {
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, echo.Map{"task_id": id})
}

func (a *PoolAdmin) handleTaskStatus(c echo.Context) error {
	p, ok := a.mgr.GetPool(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "pool not found"})
	}
	t, ok := p.TaskStatus(c.Param("task"))
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "task not found"})
	}
	return c.JSON(http.StatusOK, t)
}

func (a *PoolAdmin) handleScale(c echo.Context) error {
	target, err := strconv.Atoi(c.QueryParam("target"))
	if err != nil || target < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid target"})
	}
	p, ok := a.mgr.GetPool(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "pool not found"})
	}
	p.SetSize(target)
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

func (a *PoolAdmin) handleWorkers(c echo.Context) error {
	p, ok := a.mgr.GetPool(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "pool not found"})
	}
	return c.JSON(http.StatusOK, p.Workers())
}
