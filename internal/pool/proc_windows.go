//go:build windows

package pool

import (
	"os"
	"os/exec"
)

func setSysProcAttr(_ *exec.Cmd) {}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal(nil) is not supported on Windows; FindProcess succeeding is
	// the best cheap probe available without extra syscalls.
	_ = p
	return true
}

func terminateGroup(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}

func killGroup(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}
