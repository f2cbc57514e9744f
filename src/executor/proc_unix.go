//go:build unix

package executor

import (
	"os/exec"
	"syscall"
)

// configureProcess puts the shell in its own process group so cancellation
// also kills the scripts it spawned.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
