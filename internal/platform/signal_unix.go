//go:build !windows

package platform

import (
	"fmt"
	"syscall"

	"github.com/corectl/supervisor/internal/errs"
)

// signalNumbers maps symbolic signal names to syscall numbers.
var signalNumbers = map[Signal]syscall.Signal{
	SignalTerm: syscall.SIGTERM,
	SignalKill: syscall.SIGKILL,
	SignalStop: syscall.SIGSTOP,
	SignalCont: syscall.SIGCONT,
	SignalHup:  syscall.SIGHUP,
	SignalInt:  syscall.SIGINT,
	SignalUsr1: syscall.SIGUSR1,
	SignalUsr2: syscall.SIGUSR2,
}

func sendSignal(pid int32, sig Signal) error {
	num, ok := signalNumbers[sig]
	if !ok {
		return fmt.Errorf("%w: unknown signal %q", errs.ErrAdapterFailure, sig)
	}
	if err := syscall.Kill(int(pid), num); err != nil {
		if err == syscall.EPERM {
			return fmt.Errorf("%w: pid %d", errs.ErrPermissionDenied, pid)
		}
		return fmt.Errorf("%w: kill pid %d: %v", errs.ErrAdapterFailure, pid, err)
	}
	return nil
}
