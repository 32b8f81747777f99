//go:build !windows

package process

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunner_Run(t *testing.T) {
	r := NewRunner(DefaultRunnerConfig())

	res, err := r.Run(context.Background(), "echo", "hello", "world")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit_code=0, got %d", res.ExitCode)
	}
	if string(res.Stdout) != "hello world\n" {
		t.Errorf("expected stdout=%q, got %q", "hello world\n", string(res.Stdout))
	}
}

func TestRunner_NonZeroExit(t *testing.T) {
	r := NewRunner(DefaultRunnerConfig())

	res, err := r.Run(context.Background(), "sh", "-c", "echo oops >&2; exit 3")
	if !errors.Is(err, ErrExit) {
		t.Fatalf("expected ErrExit, got %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit_code=3, got %d", res.ExitCode)
	}
	if string(res.Stderr) != "oops\n" {
		t.Errorf("expected stderr=%q, got %q", "oops\n", string(res.Stderr))
	}
}

func TestRunner_MissingExecutable(t *testing.T) {
	r := NewRunner(DefaultRunnerConfig())

	_, err := r.Run(context.Background(), "/nonexistent/meld-cli-test")
	if !errors.Is(err, ErrStart) {
		t.Errorf("expected ErrStart, got %v", err)
	}
}

func TestRunner_ContextDeadlineKillsGroup(t *testing.T) {
	r := NewRunner(RunnerConfig{GracefulTimeout: 200 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	// The trap ignores SIGTERM, forcing the SIGKILL path.
	_, err := r.Run(ctx, "sh", "-c", "trap '' TERM; sleep 30")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("run took %v, process group was not killed", elapsed)
	}
}

func TestRunner_CancelReturnsOutputAfterExit(t *testing.T) {
	r := NewRunner(RunnerConfig{GracefulTimeout: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	res, err := r.Run(ctx, "sh", "-c", "echo partial; sleep 30")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if res == nil {
		t.Fatal("expected a result")
	}
	if res.ExitCode != -1 {
		t.Errorf("expected exit_code=-1, got %d", res.ExitCode)
	}
	if string(res.Stdout) != "partial\n" {
		t.Errorf("expected stdout=%q, got %q", "partial\n", string(res.Stdout))
	}
}
