package pool

import (
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/corectl/supervisor/internal/logger"
)

// WorkerState is the lifecycle of one pool worker.
type WorkerState string

const (
	WorkerStarting  WorkerState = "starting"
	WorkerIdle      WorkerState = "idle"
	WorkerBusy      WorkerState = "busy"
	WorkerUnhealthy WorkerState = "unhealthy"
	WorkerStopping  WorkerState = "stopping"
	WorkerStopped   WorkerState = "stopped"
)

// Worker is one pool member. A worker may own a long-running OS process
// (spawned from the pool's workerCommand); when the pool has no
// workerCommand the worker is purely an execution slot and PID stays 0.
type Worker struct {
	ID             string
	PID            int32
	State          WorkerState
	CurrentTaskID  string
	TasksCompleted int64
	TasksFailed    int64
	StartedAt      time.Time
	LastActivityAt time.Time
	Weight         int

	runningTasks int
	failures     int // consecutive failures counted toward quarantine

	proc *workerProc
}

// workerProc manages the worker's underlying OS process.
type workerProc struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	waitDone  chan struct{}
}

// buildCommand constructs an *exec.Cmd for a command string plus explicit
// args. When args are given the command is executed directly; otherwise
// shell metacharacters in the command string route it through /bin/sh -c.
func buildCommand(command string, args []string) *exec.Cmd {
	cmdStr := strings.TrimSpace(command)
	if len(args) > 0 {
		// #nosec G204
		return exec.Command(cmdStr, args...)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	if len(parts) == 0 {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// start launches the worker process and begins reaping it in the
// background. Worker output rotates through the pool's log config.
func (p *workerProc) start(command string, args []string, workDir string, logCfg logger.Config, name string) (int32, error) {
	cmd := buildCommand(command, args)
	if workDir != "" {
		cmd.Dir = workDir
	}
	setSysProcAttr(cmd)

	if logCfg.Dir != "" || logCfg.StdoutPath != "" || logCfg.StderrPath != "" {
		if logCfg.Dir != "" {
			_ = os.MkdirAll(logCfg.Dir, 0o750)
		}
		outW, errW, _ := logCfg.Writers(name)
		p.mu.Lock()
		p.outCloser, p.errCloser = outW, errW
		p.mu.Unlock()
		if outW != nil {
			cmd.Stdout = outW
		}
		if errW != nil {
			cmd.Stderr = errW
		}
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
	}

	if err := cmd.Start(); err != nil {
		p.closeWriters()
		return 0, err
	}

	p.mu.Lock()
	p.cmd = cmd
	p.waitDone = make(chan struct{})
	wd := p.waitDone
	p.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		close(wd)
		p.closeWriters()
	}()

	return int32(cmd.Process.Pid), nil
}

// alive probes the worker process without reaping it.
func (p *workerProc) alive() bool {
	p.mu.Lock()
	cmd := p.cmd
	wd := p.waitDone
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return false
	}
	if wd != nil {
		select {
		case <-wd:
			return false
		default:
		}
	}
	return processAlive(cmd.Process.Pid)
}

// stop terminates the worker process, escalating to KILL after wait.
func (p *workerProc) stop(wait time.Duration) {
	p.mu.Lock()
	cmd := p.cmd
	wd := p.waitDone
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	terminateGroup(cmd.Process.Pid)
	if wd != nil {
		select {
		case <-wd:
			return
		case <-time.After(wait):
		}
	}
	killGroup(cmd.Process.Pid)
	if wd != nil {
		select {
		case <-wd:
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (p *workerProc) closeWriters() {
	p.mu.Lock()
	if p.outCloser != nil {
		_ = p.outCloser.Close()
		p.outCloser = nil
	}
	if p.errCloser != nil {
		_ = p.errCloser.Close()
		p.errCloser = nil
	}
	p.mu.Unlock()
}
