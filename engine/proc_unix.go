//go:build unix

package engine

import (
	"os/exec"
	"syscall"
)

// killTree puts cmd in its own process group so cancellation also stops the
// programs it started.
func killTree(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
