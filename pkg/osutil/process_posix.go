//go:build unix

// Package osutil holds the platform specific process handling used to run
// hook commands.
package osutil

import (
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// GracefulShutdownDelay is how long a hook process group gets to exit after
// SIGTERM before it is sent SIGKILL.
const GracefulShutdownDelay = 2 * time.Second

// SetProcessGroup configures the command to run in its own process group so
// that a hook and everything it spawned can be signalled together.
func SetProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// SetProcessGroupKill makes context cancellation terminate the whole process
// group: SIGTERM first, then SIGKILL after GracefulShutdownDelay. Must be
// called after SetProcessGroup and before cmd.Start().
func SetProcessGroupKill(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return terminateGroup(cmd.Process.Pid)
	}
}

func terminateGroup(pid int) error {
	pgid := -pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			// already gone
			return nil
		}
		return err
	}
	time.AfterFunc(GracefulShutdownDelay, func() {
		_ = syscall.Kill(pgid, syscall.SIGKILL)
	})
	return nil
}
