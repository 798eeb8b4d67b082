// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// OutputMode selects how a command's stdout and stderr are handled.
type OutputMode int

const (
	// OutputInherit connects the command to the runner's own stdout
	// and stderr.
	OutputInherit OutputMode = iota

	// OutputPipe delivers output chunks to Options.OnStdout and
	// Options.OnStderr. A nil callback discards that stream.
	OutputPipe

	// OutputDiscard drops all output.
	OutputDiscard
)

// relayBufferSize is the read size for piped output. Chunks passed to
// callbacks are at most this long.
const relayBufferSize = 32 * 1024

// defaultDrainDelay bounds how long piped output is still read after
// the command exits. Background processes the command started may
// hold the pipes open indefinitely.
const defaultDrainDelay = 2 * time.Second

// Options configures a single Run.
type Options struct {
	// Dir is the working directory. Empty means the runner's.
	Dir string

	// Env is overlaid on the runner's environment. Keys in Env win.
	Env map[string]string

	// Stdin, when non-nil, is written to the command's standard input,
	// which is then closed. When nil the command reads from the null
	// device.
	Stdin []byte

	// Output selects the I/O mode.
	Output OutputMode

	// OnStdout and OnStderr receive output chunks in OutputPipe mode.
	// The slice is only valid for the duration of the call. Each
	// callback is invoked from a single goroutine, but stdout and
	// stderr callbacks may run concurrently with each other.
	OnStdout func(chunk []byte)
	OnStderr func(chunk []byte)

	// IgnoreReturnCode makes a non-zero exit a normal return instead
	// of an *Error.
	IgnoreReturnCode bool

	// GracePeriod, when positive, sends SIGTERM on cancellation and
	// escalates to SIGKILL after this long. Zero kills immediately.
	GracePeriod time.Duration

	// DrainDelay bounds, in OutputPipe mode, the wait for output
	// still buffered in the pipes once the command has exited. Zero
	// means two seconds.
	DrainDelay time.Duration
}

// Run executes argv and returns its exit status. A non-zero status is
// returned together with an *Error unless IgnoreReturnCode is set.
// Failures to start the command and context cancellation are returned
// as plain errors with an exit status of -1.
func Run(ctx context.Context, argv []string, options Options) (int, error) {
	if len(argv) == 0 {
		return -1, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = options.Dir
	if len(options.Env) > 0 {
		cmd.Env = overlayEnvironment(os.Environ(), options.Env)
	}
	if options.Stdin != nil {
		cmd.Stdin = bytes.NewReader(options.Stdin)
	}

	// Own process group so cancellation reaches the command's
	// children too; otherwise grandchildren keep the output pipes
	// open after the shell is gone.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = cancelFunc(cmd, options.GracePeriod)

	var runError error
	switch options.Output {
	case OutputInherit:
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		runError = cmd.Run()
	case OutputDiscard:
		runError = cmd.Run()
	case OutputPipe:
		drainDelay := options.DrainDelay
		if drainDelay <= 0 {
			drainDelay = defaultDrainDelay
		}
		runError = runPiped(cmd, options.OnStdout, options.OnStderr, drainDelay)
	default:
		return -1, fmt.Errorf("unknown output mode %d", options.Output)
	}

	return exitStatus(ctx, argv, runError, options.IgnoreReturnCode)
}

// runPiped starts cmd with both streams on pipes the relay loops read.
// Once cmd exits the loops get drainDelay to reach EOF; after that the
// read ends are closed, since only a process left running in the
// background can still be holding the write ends.
func runPiped(cmd *exec.Cmd, onStdout, onStderr func([]byte), drainDelay time.Duration) error {
	stdoutReader, stdoutWriter, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrReader, stderrWriter, err := os.Pipe()
	if err != nil {
		stdoutReader.Close()
		stdoutWriter.Close()
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	closeReaders := func() {
		stdoutReader.Close()
		stderrReader.Close()
	}

	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter
	startError := cmd.Start()
	// The child holds its own copies of the write ends.
	stdoutWriter.Close()
	stderrWriter.Close()
	if startError != nil {
		closeReaders()
		return startError
	}

	var relays errgroup.Group
	relays.Go(func() error { return relay(stdoutReader, onStdout) })
	relays.Go(func() error { return relay(stderrReader, onStderr) })
	drained := make(chan error, 1)
	go func() { drained <- relays.Wait() }()

	waitError := cmd.Wait()

	var relayError error
	timer := time.NewTimer(drainDelay)
	select {
	case relayError = <-drained:
		timer.Stop()
	case <-timer.C:
		closeReaders()
		relayError = <-drained
	}
	closeReaders()

	if waitError != nil {
		return waitError
	}
	if relayError != nil {
		return fmt.Errorf("relaying output: %w", relayError)
	}
	return nil
}

func relay(reader io.Reader, callback func([]byte)) error {
	buffer := make([]byte, relayBufferSize)
	for {
		count, err := reader.Read(buffer)
		if count > 0 && callback != nil {
			callback(buffer[:count])
		}
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// exitStatus converts the result of cmd.Run/Wait into Run's return
// values.
func exitStatus(ctx context.Context, argv []string, runError error, ignoreReturnCode bool) (int, error) {
	if runError == nil {
		return 0, nil
	}

	if ctx.Err() != nil {
		return -1, fmt.Errorf("%s: %w", CommandLine(argv), ctx.Err())
	}

	var exitError *exec.ExitError
	if !errors.As(runError, &exitError) {
		return -1, fmt.Errorf("running %s: %w", CommandLine(argv), runError)
	}

	processError := &Error{Command: argv, ExitCode: exitError.ExitCode()}
	if status, ok := exitError.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		processError.Signal = unix.SignalName(status.Signal())
	}
	if ignoreReturnCode {
		return processError.ExitCode, nil
	}
	return processError.ExitCode, processError
}

// cancelFunc returns the exec.Cmd.Cancel hook that signals the whole
// process group.
func cancelFunc(cmd *exec.Cmd, gracePeriod time.Duration) func() error {
	if gracePeriod <= 0 {
		return func() error {
			return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		}
	}
	return func() error {
		group := -cmd.Process.Pid
		if err := unix.Kill(group, unix.SIGTERM); err != nil {
			return unix.Kill(group, unix.SIGKILL)
		}
		go func() {
			time.Sleep(gracePeriod)
			// ESRCH from an already-exited group is expected.
			_ = unix.Kill(group, unix.SIGKILL)
		}()
		return nil
	}
}

// overlayEnvironment returns base with every key in overlay replaced
// or appended. Overlay keys are applied in sorted order so the result
// is deterministic.
func overlayEnvironment(base []string, overlay map[string]string) []string {
	result := make([]string, 0, len(base)+len(overlay))
	for _, entry := range base {
		name, _, _ := strings.Cut(entry, "=")
		if _, replaced := overlay[name]; replaced {
			continue
		}
		result = append(result, entry)
	}
	names := make([]string, 0, len(overlay))
	for name := range overlay {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		result = append(result, name+"="+overlay[name])
	}
	return result
}
