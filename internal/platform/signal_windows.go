//go:build windows

package platform

import (
	"fmt"
	"syscall"

	"github.com/corectl/supervisor/internal/errs"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const processTerminate = 0x0001

// sendSignal only supports TERM/KILL semantics on Windows: both terminate
// the process. STOP/CONT/HUP/USR1/USR2 have no Windows equivalent and
// return ErrAdapterFailure.
func sendSignal(pid int32, sig Signal) error {
	switch sig {
	case SignalTerm, SignalKill:
	default:
		return fmt.Errorf("%w: signal %q unsupported on windows", errs.ErrAdapterFailure, sig)
	}

	ret, _, callErr := procOpenProcess.Call(uintptr(processTerminate), 0, uintptr(pid))
	if ret == 0 {
		return nil // process already gone
	}
	handle := syscall.Handle(ret)
	defer func() {
		_, _, _ = procCloseHandle.Call(uintptr(handle))
	}()

	termRet, _, termErr := procTerminateProcess.Call(uintptr(handle), 1)
	if termRet == 0 {
		return fmt.Errorf("%w: terminate pid %d: %v", errs.ErrAdapterFailure, pid, termErr)
	}
	_ = callErr
	return nil
}
