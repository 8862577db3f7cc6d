//go:build unix

package engine_test

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/becomeliminal/nim-assistant/core"
	"github.com/becomeliminal/nim-assistant/engine"
)

func TestExecRunner_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := engine.ExecRunner{}.Run(ctx, "sh", "-c", "sleep 5")
	gt.Error(t, err).Is(core.ErrExecutionTimeout)
	gt.Bool(t, time.Since(start) < 3*time.Second).True()
}

func TestExecRunner_Output(t *testing.T) {
	stdout, stderr, err := engine.ExecRunner{}.Run(context.Background(), "sh", "-c", "echo out; echo err >&2")
	gt.NoError(t, err).Required()
	gt.Value(t, stdout).Equal("out\n")
	gt.Value(t, stderr).Equal("err\n")
}

func TestExecRunner_TimeoutStopsChildren(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	// the inner shell prints its pid and becomes sleep; the outer shell waits on it
	stdout, _, err := engine.ExecRunner{}.Run(ctx, "sh", "-c", `sh -c 'echo $$; exec sleep 30'; :`)
	gt.Error(t, err).Is(core.ErrExecutionTimeout)

	pid, err := strconv.Atoi(strings.TrimSpace(stdout))
	gt.NoError(t, err).Required()

	deadline := time.Now().Add(3 * time.Second)
	for running(pid) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	gt.Bool(t, running(pid)).False()
}

// running reports whether pid exists and is not a zombie waiting to be reaped.
func running(pid int) bool {
	if err := syscall.Kill(pid, 0); errors.Is(err, syscall.ESRCH) {
		return false
	}
	if _, err := os.Stat("/proc/self"); err != nil {
		return true
	}
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	_, rest, ok := strings.Cut(string(data), ") ")
	return !ok || !strings.HasPrefix(rest, "Z")
}
