// Package pool implements dynamically sized pools of OS workers: a bounded
// FIFO+priority task queue, load-balanced dispatch, failure-tolerant worker
// lifecycle, and autoscaling.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corectl/supervisor/internal/errs"
	"github.com/corectl/supervisor/internal/logger"
)

// Strategy is the pool's autoscaling behavior.
type Strategy string

const (
	ScalingFixed     Strategy = "fixed"
	ScalingDynamic   Strategy = "dynamic"
	ScalingOnDemand  Strategy = "on_demand"
	ScalingScheduled Strategy = "scheduled"
)

// Config describes one pool.
type Config struct {
	ID   string
	Name string

	WorkerCommand string
	WorkerArgs    []string
	WorkDir       string

	MinWorkers     int
	MaxWorkers     int
	InitialWorkers int

	ScalingStrategy Strategy
	LoadBalancing   Algorithm
	WorkerWeights   []int // cycled over workers in creation order; weighted algorithm only

	HealthCheckInterval time.Duration
	WorkerIdleTimeout   time.Duration
	TaskTimeout         time.Duration
	MaxQueueSize        int
	ScaleCooldown       time.Duration
	QueueHighWater      int
	MaxWorkerFailures   int

	Schedules []Schedule // scheduled strategy only

	Log logger.Config // rotating output for worker processes
}

// Validate checks creation-time invariants.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: pool requires a name", errs.ErrSupervisionConfig)
	}
	if c.MinWorkers < 0 || c.MaxWorkers < 1 {
		return fmt.Errorf("%w: pool %q: worker bounds must satisfy 0 <= min, 1 <= max", errs.ErrSupervisionConfig, c.Name)
	}
	if c.MinWorkers > c.MaxWorkers {
		return fmt.Errorf("%w: pool %q: minWorkers %d exceeds maxWorkers %d", errs.ErrSupervisionConfig, c.Name, c.MinWorkers, c.MaxWorkers)
	}
	if c.MaxQueueSize < 1 {
		return fmt.Errorf("%w: pool %q: maxQueueSize must be >= 1", errs.ErrSupervisionConfig, c.Name)
	}
	for _, s := range c.Schedules {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("pool %q: %w", c.Name, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ScalingStrategy == "" {
		c.ScalingStrategy = ScalingFixed
	}
	if c.LoadBalancing == "" {
		c.LoadBalancing = RoundRobin
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 10 * time.Second
	}
	if c.WorkerIdleTimeout <= 0 {
		c.WorkerIdleTimeout = 60 * time.Second
	}
	if c.ScaleCooldown <= 0 {
		c.ScaleCooldown = 5 * time.Second
	}
	if c.QueueHighWater <= 0 {
		c.QueueHighWater = 1
	}
	if c.MaxWorkerFailures <= 0 {
		c.MaxWorkerFailures = 3
	}
	if c.InitialWorkers <= 0 {
		c.InitialWorkers = c.MinWorkers
	}
	if c.InitialWorkers > c.MaxWorkers {
		c.InitialWorkers = c.MaxWorkers
	}
}

// Metrics is a point-in-time snapshot of pool activity.
type Metrics struct {
	TotalWorkers        int
	IdleWorkers         int
	BusyWorkers         int
	QueuedTasks         int
	RunningTasks        int
	CompletedTasks      int64
	TotalProcessed      int64
	TotalCompleted      int64
	TotalFailed         int64
	AverageTaskDuration time.Duration
	WorkerUtilization   float64
	ThroughputPerSecond float64
}

// Pool owns one task queue, a worker set, a load balancer, and a scaler.
// Enqueue, dequeue, assignment, and worker-state transitions happen under
// mu; task process I/O happens outside it.
type Pool struct {
	cfg Config

	mu       sync.Mutex
	queue    taskQueue
	workers  map[string]*Worker
	tasks    map[string]*Task
	rrCursor int
	rng      *rand.Rand
	draining bool

	totalProcessed int64
	totalCompleted int64
	totalFailed    int64
	totalDuration  time.Duration
	startedAt      time.Time
	lastScaleAt    time.Time
	weightCursor   int

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates cfg and constructs a stopped Pool. Call Start to launch
// the dispatch, scaling, and health loops.
func New(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Pool{
		cfg:     cfg,
		workers: make(map[string]*Worker),
		tasks:   make(map[string]*Task),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		wake:    make(chan struct{}, 1),
	}, nil
}

// ID returns the pool's identifier.
func (p *Pool) ID() string { return p.cfg.ID }

// Name returns the pool's display name.
func (p *Pool) Name() string { return p.cfg.Name }

// Start spins up the initial workers and background loops.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.startedAt = time.Now()

	p.mu.Lock()
	for i := 0; i < p.cfg.InitialWorkers; i++ {
		p.spawnWorkerLocked()
	}
	p.mu.Unlock()

	go p.run(ctx)
}

func (p *Pool) run(ctx context.Context) {
	defer close(p.done)

	scaleTicker := time.NewTicker(time.Second)
	defer scaleTicker.Stop()
	healthTicker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer healthTicker.Stop()

	var schedule *scheduleRunner
	if p.cfg.ScalingStrategy == ScalingScheduled && len(p.cfg.Schedules) > 0 {
		schedule = newScheduleRunner(p.cfg.Schedules, p.SetSize)
		schedule.start(ctx)
		defer schedule.stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			p.dispatch(ctx)
		case <-scaleTicker.C:
			p.autoscale()
			p.dispatch(ctx)
		case <-healthTicker.C:
			p.checkWorkers()
		}
	}
}

// Submit enqueues a task. Fails fast with PoolQueueFull when the queue is
// at capacity, leaving the pool unchanged.
func (p *Pool) Submit(t Task) (string, error) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: pool %q is shutting down", errs.ErrPoolNotFound, p.cfg.Name)
	}
	if p.queue.len() >= p.cfg.MaxQueueSize {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: pool %q at %d queued tasks", errs.ErrPoolQueueFull, p.cfg.Name, p.cfg.MaxQueueSize)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.EnqueuedAt = time.Now()
	t.State = TaskQueued
	if t.Timeout <= 0 {
		t.Timeout = p.cfg.TaskTimeout
	}
	stored := t
	p.queue.push(&stored)
	p.tasks[stored.ID] = &stored
	p.mu.Unlock()

	p.notify()
	return stored.ID, nil
}

// Cancel removes a queued task. Running tasks are not preempted.
func (p *Pool) Cancel(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t := p.queue.remove(taskID); t != nil {
		t.State = TaskCancelled
		return true
	}
	return false
}

// TaskStatus returns a copy of the task record, if known.
func (p *Pool) TaskStatus(taskID string) (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

func (p *Pool) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// dispatch pairs queued tasks with idle workers until one side runs dry.
func (p *Pool) dispatch(ctx context.Context) {
	for {
		p.mu.Lock()
		if p.queue.len() == 0 {
			p.mu.Unlock()
			return
		}
		idle := p.idleWorkersLocked()
		if len(idle) == 0 {
			p.mu.Unlock()
			return
		}
		w := pickWorker(p.cfg.LoadBalancing, idle, p.rrCursor, p.rng)
		if p.cfg.LoadBalancing == RoundRobin || p.cfg.LoadBalancing == "" {
			p.rrCursor++
		}
		t := p.queue.pop()
		t.State = TaskRunning
		t.AssignedWorker = w.ID
		t.StartedAt = time.Now()
		w.State = WorkerBusy
		w.CurrentTaskID = t.ID
		w.runningTasks++
		w.LastActivityAt = time.Now()
		p.mu.Unlock()

		go p.runTask(ctx, w.ID, t)
	}
}

func (p *Pool) idleWorkersLocked() []*Worker {
	out := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		if w.State == WorkerIdle {
			out = append(out, w)
		}
	}
	return out
}

// runTask executes the task command outside the pool lock, then folds the
// outcome back into worker and pool state.
func (p *Pool) runTask(ctx context.Context, workerID string, t *Task) {
	runCtx := ctx
	var cancel context.CancelFunc
	if t.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	err := p.execTask(runCtx, t)
	timedOut := runCtx.Err() == context.DeadlineExceeded

	now := time.Now()
	duration := now.Sub(t.StartedAt)

	p.mu.Lock()
	defer p.mu.Unlock()

	w, workerAlive := p.workers[workerID]
	if workerAlive {
		w.CurrentTaskID = ""
		w.runningTasks--
		w.LastActivityAt = now
		if w.State == WorkerBusy {
			w.State = WorkerIdle
		}
	}

	t.FinishedAt = now
	p.totalProcessed++
	p.totalDuration += duration

	switch {
	case timedOut:
		t.State = TaskFailed
		t.FailureReason = errs.ErrTaskTimeout.Error()
		p.totalFailed++
		if workerAlive {
			w.TasksFailed++
			w.failures++
			if w.failures >= p.cfg.MaxWorkerFailures {
				w.State = WorkerUnhealthy
			}
		}
	case err != nil:
		if t.Retry > 0 && !p.draining {
			t.Retry--
			t.State = TaskQueued
			t.AssignedWorker = ""
			t.EnqueuedAt = now
			p.queue.push(t)
			p.notifyLocked()
		} else {
			t.State = TaskFailed
			t.FailureReason = err.Error()
			p.totalFailed++
		}
		if workerAlive {
			w.TasksFailed++
			w.failures++
			if w.failures >= p.cfg.MaxWorkerFailures {
				w.State = WorkerUnhealthy
			}
		}
	default:
		t.State = TaskCompleted
		p.totalCompleted++
		if workerAlive {
			w.TasksCompleted++
			w.failures = 0
		}
	}
	p.notifyLocked()
}

func (p *Pool) notifyLocked() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) execTask(ctx context.Context, t *Task) error {
	cmd := buildCommand(t.Command, t.Args)
	// Rebuild with context so timeout expiry kills the process.
	cmd = exec.CommandContext(ctx, cmd.Path, cmd.Args[1:]...)
	if t.CWD != "" {
		cmd.Dir = t.CWD
	}
	if len(t.Env) > 0 {
		cmd.Env = t.Env
	}
	setSysProcAttr(cmd)
	return cmd.Run()
}

// spawnWorkerLocked creates one worker, starting its OS process when the
// pool has a workerCommand. Caller holds p.mu.
func (p *Pool) spawnWorkerLocked() *Worker {
	w := &Worker{
		ID:             uuid.NewString(),
		State:          WorkerStarting,
		StartedAt:      time.Now(),
		LastActivityAt: time.Now(),
		Weight:         1,
	}
	if len(p.cfg.WorkerWeights) > 0 {
		w.Weight = p.cfg.WorkerWeights[p.weightCursor%len(p.cfg.WorkerWeights)]
		p.weightCursor++
	}
	if p.cfg.WorkerCommand != "" {
		w.proc = &workerProc{}
		pid, err := w.proc.start(p.cfg.WorkerCommand, p.cfg.WorkerArgs, p.cfg.WorkDir, p.cfg.Log, p.cfg.Name+"-"+w.ID[:8])
		if err != nil {
			slog.Warn("pool worker start failed", "pool", p.cfg.Name, "error", err)
			w.State = WorkerUnhealthy
			p.workers[w.ID] = w
			return w
		}
		w.PID = pid
	}
	w.State = WorkerIdle
	p.workers[w.ID] = w
	return w
}

// stopWorkerLocked transitions the worker to stopped and terminates its
// process outside the lock. Caller holds p.mu.
func (p *Pool) stopWorkerLocked(w *Worker, wait time.Duration) {
	w.State = WorkerStopped
	delete(p.workers, w.ID)
	if w.proc != nil {
		proc := w.proc
		go proc.stop(wait)
	}
}

// autoscale applies the configured scaling strategy, bounded by
// [minWorkers, maxWorkers]. Only the dynamic strategy waits out the scale
// cooldown between changes.
func (p *Pool) autoscale() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining {
		return
	}

	now := time.Now()
	switch p.cfg.ScalingStrategy {
	case ScalingFixed:
		target := p.cfg.InitialWorkers
		if target < p.cfg.MinWorkers {
			target = p.cfg.MinWorkers
		}
		p.resizeLocked(target)
	case ScalingDynamic:
		if !p.cooldownOverLocked(now) {
			return
		}
		if p.queue.len() > p.cfg.QueueHighWater && len(p.workers) < p.cfg.MaxWorkers {
			p.spawnWorkerLocked()
			p.lastScaleAt = now
			return
		}
		if len(p.workers) > p.cfg.MinWorkers {
			if w := p.idleLongestLocked(now); w != nil {
				p.stopWorkerLocked(w, time.Second)
				p.lastScaleAt = now
			}
		}
	case ScalingOnDemand:
		for p.queue.len() > p.countUsableLocked()-p.busyCountLocked() && len(p.workers) < p.cfg.MaxWorkers {
			p.spawnWorkerLocked()
		}
		if len(p.workers) > p.cfg.MinWorkers {
			if w := p.idleLongestLocked(now); w != nil {
				p.stopWorkerLocked(w, time.Second)
			}
		}
	case ScalingScheduled:
		// externally driven via SetSize / scheduleRunner
	}
}

func (p *Pool) cooldownOverLocked(now time.Time) bool {
	return p.lastScaleAt.IsZero() || now.Sub(p.lastScaleAt) >= p.cfg.ScaleCooldown
}

// idleLongestLocked returns an idle worker whose idle span exceeds
// workerIdleTimeout, preferring the longest idle one.
func (p *Pool) idleLongestLocked(now time.Time) *Worker {
	var oldest *Worker
	for _, w := range p.workers {
		if w.State != WorkerIdle {
			continue
		}
		if now.Sub(w.LastActivityAt) < p.cfg.WorkerIdleTimeout {
			continue
		}
		if oldest == nil || w.LastActivityAt.Before(oldest.LastActivityAt) {
			oldest = w
		}
	}
	return oldest
}

func (p *Pool) busyCountLocked() int {
	n := 0
	for _, w := range p.workers {
		if w.State == WorkerBusy {
			n++
		}
	}
	return n
}

func (p *Pool) countUsableLocked() int {
	n := 0
	for _, w := range p.workers {
		if w.State == WorkerIdle || w.State == WorkerBusy {
			n++
		}
	}
	return n
}

func (p *Pool) resizeLocked(target int) {
	if target < p.cfg.MinWorkers {
		target = p.cfg.MinWorkers
	}
	if target > p.cfg.MaxWorkers {
		target = p.cfg.MaxWorkers
	}
	for len(p.workers) < target {
		p.spawnWorkerLocked()
	}
	for len(p.workers) > target {
		var victim *Worker
		for _, w := range p.workers {
			if w.State == WorkerIdle {
				victim = w
				break
			}
		}
		if victim == nil {
			break // only busy workers left; drain naturally
		}
		p.stopWorkerLocked(victim, time.Second)
	}
}

// SetSize resizes the pool, clamped to [minWorkers, maxWorkers]. Drives
// the scheduled scaling strategy; usable under any strategy.
func (p *Pool) SetSize(target int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining {
		return
	}
	p.resizeLocked(target)
	p.notifyLocked()
}

// checkWorkers verifies worker liveness and replaces unhealthy or dead
// workers, keeping the pool at its current size.
func (p *Pool) checkWorkers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining {
		return
	}
	for _, w := range p.workers {
		dead := w.proc != nil && !w.proc.alive() && w.State != WorkerStopping
		if w.State == WorkerUnhealthy || (dead && w.State != WorkerBusy) {
			slog.Info("replacing pool worker", "pool", p.cfg.Name, "worker", w.ID, "state", w.State)
			p.stopWorkerLocked(w, time.Second)
			if len(p.workers) < p.cfg.MaxWorkers {
				p.spawnWorkerLocked()
			}
		}
	}
}

// Workers returns copies of all current workers.
func (p *Pool) Workers() []Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Worker, 0, len(p.workers))
	for _, w := range p.workers {
		cp := *w
		cp.proc = nil
		out = append(out, cp)
	}
	return out
}

// Metrics computes a point-in-time snapshot of pool activity.
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := Metrics{
		TotalWorkers:   len(p.workers),
		QueuedTasks:    p.queue.len(),
		CompletedTasks: p.totalCompleted,
		TotalProcessed: p.totalProcessed,
		TotalCompleted: p.totalCompleted,
		TotalFailed:    p.totalFailed,
	}
	for _, w := range p.workers {
		switch w.State {
		case WorkerIdle:
			m.IdleWorkers++
		case WorkerBusy:
			m.BusyWorkers++
			m.RunningTasks += w.runningTasks
		}
	}
	if p.totalProcessed > 0 {
		m.AverageTaskDuration = p.totalDuration / time.Duration(p.totalProcessed)
	}
	if m.TotalWorkers > 0 {
		m.WorkerUtilization = float64(m.BusyWorkers) / float64(m.TotalWorkers)
	}
	if elapsed := time.Since(p.startedAt).Seconds(); elapsed > 0 {
		m.ThroughputPerSecond = float64(p.totalProcessed) / elapsed
	}
	return m
}

// Shutdown stops accepting submissions, drains running tasks up to
// timeout, then terminates remaining workers and background loops.
func (p *Pool) Shutdown(timeout time.Duration) {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		busy := p.busyCountLocked()
		p.mu.Unlock()
		if busy == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	p.mu.Lock()
	workers := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	for _, w := range workers {
		p.stopWorkerLocked(w, time.Second)
	}
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}
