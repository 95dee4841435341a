package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/corectl/supervisor/internal/errs"
	"github.com/corectl/supervisor/internal/platform"
	"github.com/corectl/supervisor/internal/registry"
)

// procStarter is the default restart execution capability: it stops the
// current process through the adapter and relaunches the recorded command,
// updating the registry with the fresh pid.
type procStarter struct {
	adapter platform.Adapter
	reg     *registry.Registry
}

func (ps *procStarter) StopProcess(ctx context.Context, registryID string, graceful time.Duration) error {
	p, ok := ps.reg.Get(registryID)
	if !ok {
		return fmt.Errorf("%w: registryId %q", errs.ErrProcessNotFound, registryID)
	}

	if err := ps.adapter.KillProcess(ctx, p.PID, platform.SignalTerm); err != nil {
		return err
	}
	if graceful <= 0 {
		return nil
	}

	deadline := time.Now().Add(graceful)
	for time.Now().Before(deadline) {
		_, alive, err := ps.adapter.GetProcessInfo(ctx, p.PID)
		if err != nil || !alive {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return ps.adapter.KillProcess(ctx, p.PID, platform.SignalKill)
}

func (ps *procStarter) StartProcess(ctx context.Context, registryID string) (int32, error) {
	p, ok := ps.reg.Get(registryID)
	if !ok {
		return 0, fmt.Errorf("%w: registryId %q", errs.ErrProcessNotFound, registryID)
	}
	if strings.TrimSpace(p.Command) == "" {
		return 0, fmt.Errorf("%w: no recorded command for registryId %q", errs.ErrRestartFailure, registryID)
	}

	cmd := buildRestartCommand(p.Command, p.Args)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrRestartFailure, err)
	}
	newPID := int32(cmd.Process.Pid)

	// Detach: the OS (or the next sync tick) owns the child from here.
	go func() { _ = cmd.Wait() }()

	info := p.ProcessInfo
	info.PID = newPID
	info.Status = platform.StatusStarting
	info.StartTime = time.Now()
	if err := ps.reg.UpdateProcess(ctx, registryID, info); err != nil {
		return newPID, err
	}
	return newPID, nil
}

func buildRestartCommand(command string, args []string) *exec.Cmd {
	if len(args) > 0 {
		// #nosec G204
		return exec.Command(command, args...)
	}
	if strings.ContainsAny(command, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", command)
	}
	parts := strings.Fields(command)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}
