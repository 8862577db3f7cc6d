//go:build windows

package engine

import (
	"os/exec"
	"strconv"
)

// killTree makes cancellation stop cmd and every process it started.
// cmd /C leaves its children running when only cmd.exe is killed.
func killTree(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if err := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid)).Run(); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
}
