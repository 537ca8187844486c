// Package procrun spawns one external process with a bounded time budget and
// captures its full observable outcome. A timeout is a normal result, not an
// error: the child's process group is killed and the conventional exit code
// 124 is reported with whatever output was produced.
package procrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// TimeoutExitCode matches the coreutils timeout(1) convention.
const TimeoutExitCode = 124

type Request struct {
	Executable string
	Args       []string
	Dir        string
	// Timeout bounds wall-clock runtime; zero means unbounded.
	Timeout time.Duration
}

type Result struct {
	ExitCode   int
	DurationMS int64
	Stdout     string
	Stderr     string
	TimedOut   bool
}

// Run executes the request to completion. The returned error is reserved for
// infrastructure failures (unstartable executable); expectation mismatches,
// non-zero exits, and timeouts are all expressed through Result.
func Run(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Executable) == "" {
		return Result{}, fmt.Errorf("executable is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, req.Executable, req.Args...)
	cmd.Dir = req.Dir
	// Run in its own process group so a timeout kills the entire tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 3 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	res := Result{
		DurationMS: time.Since(started).Milliseconds(),
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = TimeoutExitCode
		return res, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("run %s: %w", req.Executable, err)
	}
	return res, nil
}
