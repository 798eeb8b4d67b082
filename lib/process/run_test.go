// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// capture collects piped output chunks.
type capture struct {
	mu     sync.Mutex
	stdout strings.Builder
	stderr strings.Builder
}

func (c *capture) options() Options {
	return Options{
		Output: OutputPipe,
		OnStdout: func(chunk []byte) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.stdout.Write(chunk)
		},
		OnStderr: func(chunk []byte) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.stderr.Write(chunk)
		},
	}
}

func TestRunZeroExit(t *testing.T) {
	t.Parallel()

	code, err := Run(context.Background(), []string{"sh", "-c", "exit 0"}, Options{Output: OutputDiscard})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestRunNonZeroExitRaises(t *testing.T) {
	t.Parallel()

	argv := []string{"sh", "-c", "exit 3"}
	code, err := Run(context.Background(), argv, Options{Output: OutputDiscard})
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
	processError, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %v", err)
	}
	if processError.ExitCode != 3 {
		t.Errorf("Error.ExitCode = %d, want 3", processError.ExitCode)
	}
	if !strings.Contains(processError.Error(), "'exit 3'") {
		t.Errorf("error %q should contain the quoted command line", processError.Error())
	}
}

func TestRunIgnoreReturnCode(t *testing.T) {
	t.Parallel()

	code, err := Run(context.Background(), []string{"sh", "-c", "exit 3"}, Options{
		Output:           OutputDiscard,
		IgnoreReturnCode: true,
	})
	if err != nil {
		t.Fatalf("expected no error with IgnoreReturnCode, got %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}

func TestRunPipedDrainsTrailingOutput(t *testing.T) {
	t.Parallel()

	var output capture
	// No trailing newline on either stream, and the last write
	// happens immediately before exit.
	script := `i=0; while [ $i -lt 2000 ]; do echo "line $i"; i=$((i+1)); done; printf tail; printf err >&2`
	if _, err := Run(context.Background(), []string{"sh", "-c", script}, output.options()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stdout := output.stdout.String()
	if !strings.HasSuffix(stdout, "line 1999\ntail") {
		t.Errorf("stdout lost trailing output; ends with %q", stdout[max(0, len(stdout)-20):])
	}
	if got := strings.Count(stdout, "\n"); got != 2000 {
		t.Errorf("stdout has %d lines, want 2000", got)
	}
	if output.stderr.String() != "err" {
		t.Errorf("stderr = %q, want %q", output.stderr.String(), "err")
	}
}

func TestRunPipedBackgroundProcessHoldingPipes(t *testing.T) {
	t.Parallel()

	var output capture
	options := output.options()
	options.DrainDelay = time.Second
	started := time.Now()
	// The background sleep inherits stdout and stderr and outlives
	// the shell.
	code, err := Run(context.Background(), []string{"sh", "-c", "sleep 20 & echo done"}, options)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Errorf("Run returned after %v, want it bounded by the drain delay", elapsed)
	}
	output.mu.Lock()
	defer output.mu.Unlock()
	if output.stdout.String() != "done\n" {
		t.Errorf("stdout = %q, want %q", output.stdout.String(), "done\n")
	}
}

func TestRunStdinPayload(t *testing.T) {
	t.Parallel()

	var output capture
	options := output.options()
	options.Stdin = []byte("secret-value")
	if _, err := Run(context.Background(), []string{"cat"}, options); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if output.stdout.String() != "secret-value" {
		t.Errorf("stdout = %q, want the stdin payload", output.stdout.String())
	}
}

func TestRunDirectoryAndEnvironment(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	var output capture
	options := output.options()
	options.Dir = directory
	options.Env = map[string]string{"HANGAR_TEST_VALUE": "overlaid"}

	if _, err := Run(context.Background(), []string{"sh", "-c", `pwd; echo "$HANGAR_TEST_VALUE"`}, options); err != nil {
		t.Fatalf("Run: %v", err)
	}

	resolved, err := filepath.EvalSymlinks(directory)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(output.stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", output.stdout.String())
	}
	if got, _ := filepath.EvalSymlinks(lines[0]); got != resolved {
		t.Errorf("working directory = %q, want %q", lines[0], resolved)
	}
	if lines[1] != "overlaid" {
		t.Errorf("HANGAR_TEST_VALUE = %q, want %q", lines[1], "overlaid")
	}
}

func TestRunCancellationKillsProcessGroup(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	// The child sleep would keep the pipes open if only the shell
	// were killed.
	_, err := Run(ctx, []string{"sh", "-c", "sleep 30 & wait"}, Options{Output: OutputPipe})
	if err == nil {
		t.Fatal("expected an error from a cancelled command")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
	if _, ok := AsError(err); ok {
		t.Error("cancellation should not be reported as *Error")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Run took %v after cancellation", elapsed)
	}
}

func TestRunSignalReported(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), []string{"sh", "-c", "kill -TERM $$"}, Options{Output: OutputDiscard})
	processError, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %v", err)
	}
	if processError.Signal != "SIGTERM" {
		t.Errorf("Signal = %q, want SIGTERM", processError.Signal)
	}
	if processError.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1 for a signaled process", processError.ExitCode)
	}
}

func TestRunMissingBinary(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), []string{"/nonexistent/hangar-test-binary"}, Options{Output: OutputDiscard})
	if err == nil {
		t.Fatal("expected an error for a missing binary")
	}
	if _, ok := AsError(err); ok {
		t.Error("start failure should not be reported as *Error")
	}
}

func TestOverlayEnvironment(t *testing.T) {
	t.Parallel()

	result := overlayEnvironment(
		[]string{"PATH=/bin", "HOME=/root", "KEEP=1"},
		map[string]string{"HOME": "/workspace", "ADDED": "yes"},
	)
	want := []string{"PATH=/bin", "KEEP=1", "ADDED=yes", "HOME=/workspace"}
	if strings.Join(result, ",") != strings.Join(want, ",") {
		t.Errorf("overlayEnvironment = %v, want %v", result, want)
	}
}

func TestCommandLineQuoting(t *testing.T) {
	t.Parallel()

	got := CommandLine([]string{"docker", "exec", "it's", "", "a b"})
	want := `docker exec 'it'\''s' '' 'a b'`
	if got != want {
		t.Errorf("CommandLine = %q, want %q", got, want)
	}
}
