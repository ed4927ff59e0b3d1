//go:build linux

package para

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr delivers SIGTERM to workers when the spawning thread exits.
// The dispatch loop holds its OS thread for the duration of a run.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}
}

// openExitFd returns a pidfd, which polls readable once pid exits.
func openExitFd(pid int) (int, error) {
	return unix.PidfdOpen(pid, 0)
}
