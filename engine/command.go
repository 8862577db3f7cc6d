package engine

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/nim-assistant/core"
)

// Runner executes a program and returns its output. Implementations must
// stop the process and its children when ctx is done.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// Navigator opens a URL for the user.
type Navigator interface {
	Open(url string) error
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct {
	// WaitDelay bounds how long Wait blocks on inherited pipes after the
	// process is killed.
	WaitDelay time.Duration
}

// Run executes name with args.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	killTree(cmd)
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = time.Second
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return stdout.String(), stderr.String(), goerr.Wrap(core.ErrExecutionTimeout, "command stopped",
			goerr.V("program", name), goerr.V("cause", ctx.Err().Error()))
	}
	if err != nil {
		return stdout.String(), stderr.String(), goerr.Wrap(err, "command failed", goerr.V("program", name))
	}
	return stdout.String(), stderr.String(), nil
}

// BrowserNavigator opens URLs in the system's default browser.
type BrowserNavigator struct{}

// Open launches the default browser.
func (BrowserNavigator) Open(url string) error {
	launcher.Open(url)
	return nil
}

// commandLine builds the argv for a shell or PowerShell payload.
func commandLine(kind core.CommandKind, payload string) []string {
	windows := runtime.GOOS == "windows"
	switch kind {
	case core.CommandPowerShell:
		if windows {
			return []string{"powershell", "-NoProfile", "-Command", payload}
		}
		return []string{"pwsh", "-NoProfile", "-Command", payload}
	default:
		if windows {
			return []string{"cmd", "/C", payload}
		}
		return []string{"sh", "-c", payload}
	}
}

func pythonLine(code string) []string {
	if runtime.GOOS == "windows" {
		return []string{"python", "-c", code}
	}
	return []string{"python3", "-c", code}
}

// execResult is the outcome of one bounded program run.
type execResult struct {
	stdout   string
	failure  string
	timedOut bool
}

// run executes argv under the command timeout.
func (e *Engine) run(ctx context.Context, argv []string) execResult {
	cctx, cancel := context.WithTimeout(ctx, e.commandTimeout)
	defer cancel()

	stdout, stderr, err := e.runner.Run(cctx, argv[0], argv[1:]...)
	if errors.Is(cctx.Err(), context.DeadlineExceeded) || errors.Is(err, core.ErrExecutionTimeout) {
		return execResult{stdout: stdout, timedOut: true}
	}

	failure := strings.TrimSpace(stderr)
	if failure == "" && err != nil {
		failure = exitStatus(err)
	}
	return execResult{stdout: stdout, failure: failure}
}

func exitStatus(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.String()
	}
	return err.Error()
}

// runCommand performs a shell, PowerShell or browser command and returns a
// diagnostic line, or "" when there is nothing to report.
func (e *Engine) runCommand(ctx context.Context, t *turn, req core.CommandRequest) string {
	switch req.Kind {
	case core.CommandShell, core.CommandPowerShell:
		if err := e.guard.CheckCommand(req.Kind, req.Payload); err != nil {
			t.logger.Warn("command denied", "error", err)
			return "Command '" + req.Payload + "' was blocked due to security restrictions"
		}

		res := e.run(ctx, commandLine(req.Kind, req.Payload))
		switch {
		case res.timedOut:
			t.logger.Warn("command timed out", core.KindKey, req.Kind, core.PayloadKey, req.Payload, "timeout", e.commandTimeout)
			return TimedOutText
		case res.failure != "":
			t.logger.Warn("command failed", core.KindKey, req.Kind, core.PayloadKey, req.Payload, "failure", res.failure)
			if req.Kind == core.CommandPowerShell {
				return "PowerShell command failed: " + res.failure
			}
			return "Command failed: " + res.failure
		}
		t.logger.Info("command executed", core.KindKey, req.Kind, core.PayloadKey, req.Payload, "stdout", res.stdout)
		return ""

	case core.CommandOpenBrowser:
		return e.openBrowser(t, req.Payload)
	}

	t.logger.Warn("unknown command type", core.KindKey, req.Kind)
	return "Unknown command type: " + string(req.Kind)
}

// openBrowser checks rawURL and opens it without waiting for the browser.
func (e *Engine) openBrowser(t *turn, rawURL string) string {
	if err := e.guard.CheckDestination(rawURL); err != nil {
		t.logger.Warn("destination denied", "error", err)
		return "Destination '" + rawURL + "' was blocked due to security restrictions"
	}

	logger := t.logger
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.navigator.Open(rawURL); err != nil {
			logger.Error("failed to open browser", "error", err, "url", rawURL)
			return
		}
		logger.Info("opened browser", "url", rawURL)
	}()
	return ""
}
