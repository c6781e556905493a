//go:build windows

package osutil

import (
	"os"
	"os/exec"
	"time"
)

// GracefulShutdownDelay is defined for API parity with Unix. Windows has no
// SIGTERM, so processes are killed immediately.
const GracefulShutdownDelay = 2 * time.Second

// SetProcessGroup is a no-op on Windows
func SetProcessGroup(_ *exec.Cmd) {}

// SetProcessGroupKill makes context cancellation kill the hook process. Child
// processes may outlive it since Windows has no Unix-style process groups.
func SetProcessGroupKill(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Kill)
	}
}
