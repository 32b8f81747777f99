// Package process runs short-lived helper executables (meld-cli) and makes
// sure a cancelled or timed-out run takes its whole process tree with it.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

var (
	// ErrStart is returned when the executable cannot be started at all.
	ErrStart = errors.New("failed to start process")
	// ErrExit is returned when the process ran but exited non-zero.
	ErrExit = errors.New("process exited with error")
)

// RunnerConfig holds configuration for a Runner.
type RunnerConfig struct {
	// GracefulTimeout is how long to wait after the termination signal
	// before the process group is killed.
	GracefulTimeout time.Duration
	// Env replaces the inherited environment when non-empty.
	Env []string
	// Dir is the working directory (empty = current).
	Dir string
}

// DefaultRunnerConfig returns a RunnerConfig with sensible defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		GracefulTimeout: 2 * time.Second,
	}
}

// Result is the captured outcome of a finished run.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Runner executes one command per Run call.
type Runner struct {
	config RunnerConfig
}

// NewRunner creates a Runner.
func NewRunner(config RunnerConfig) *Runner {
	if config.GracefulTimeout <= 0 {
		config.GracefulTimeout = DefaultRunnerConfig().GracefulTimeout
	}
	return &Runner{config: config}
}

// Run starts name with args and waits for it to exit or for ctx to end.
// On cancellation the process group is terminated and ctx.Err() is returned
// (wrapped), together with the output captured before exit. The output is
// nil if the process could not be reaped.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = r.config.Dir
	if len(r.config.Env) > 0 {
		cmd.Env = r.config.Env
	} else {
		cmd.Env = os.Environ()
	}
	setProcAttr(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrStart, name, err)
	}
	// Non-fatal: without a job object only the direct child is killed on Windows.
	_ = setupJobObject(cmd)
	defer cleanupJobObject(cmd.Process.Pid)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		res := &Result{ExitCode: -1}
		// The buffers are only safe to read once Wait has returned.
		if r.terminate(cmd.Process.Pid, done) {
			res.Stdout = stdout.Bytes()
			res.Stderr = stderr.Bytes()
		}
		res.Duration = time.Since(started)
		return res, fmt.Errorf("%s: %w", name, ctx.Err())
	}

	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(started),
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, fmt.Errorf("%w: %s (code %d)", ErrExit, name, res.ExitCode)
		}
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", name, waitErr)
	}
	return res, nil
}

// terminate asks the process group to stop, then kills it if it lingers.
// It reports whether Wait returned.
func (r *Runner) terminate(pid int, done <-chan error) bool {
	if err := signalTerm(pid); err != nil && !isNoSuchProcess(err) {
		_ = signalKill(pid)
	}

	select {
	case <-done:
		return true
	case <-time.After(r.config.GracefulTimeout):
	}

	_ = signalKill(pid)
	select {
	case <-done:
		return true
	case <-time.After(100 * time.Millisecond):
		// Likely already dead; Wait has not observed it yet.
		return false
	}
}
