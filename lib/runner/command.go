// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hangar-build/hangar/lib/pipeline"
	"github.com/hangar-build/hangar/lib/pipelinedef"
	"github.com/hangar-build/hangar/lib/process"
	schema "github.com/hangar-build/hangar/lib/schema/pipeline"
	"github.com/hangar-build/hangar/sandbox"
)

// Signal reasons reported to automatic retry rules.
const (
	reasonCancel  = "cancel"
	reasonTimeout = "timeout"
)

// outcome is the result of one attempt of a command job.
type outcome struct {
	status int

	// signal is the terminating signal name, or "".
	signal string

	// reason is why the job was signaled: cancel, timeout, or "".
	reason string

	err error
}

func (o outcome) passed() bool {
	return o.status == 0 && o.err == nil
}

// runCommand runs a command job to completion: concurrency lock,
// secrets, attempts with automatic retry, soft fail, then artifacts.
func (r *Runner) runCommand(ctx context.Context, planned PlannedJob, command *schema.CommandStep) JobResult {
	started := r.clock.Now()
	logger := r.logger.With("job", planned.ID)
	result := r.finish(planned, pipeline.StateFailed, "", started)

	for _, plugin := range command.Plugins {
		logger.Warn("plugins are not executed", "plugin", plugin.Name)
	}

	if command.ConcurrencyGroup != "" && command.Concurrency == 1 {
		lock, err := acquireGroupLock(ctx, r.lockDir(), command.ConcurrencyGroup, r.clock, func() {
			logger.Info("waiting for concurrency group", "group", command.ConcurrencyGroup)
		})
		if err != nil {
			return r.commandFailed(ctx, result, started, err)
		}
		defer func() {
			if err := lock.Release(); err != nil {
				logger.Warn("releasing concurrency lock", "group", command.ConcurrencyGroup, "error", err)
			}
		}()
	}

	secrets, err := r.resolveSecrets(ctx, command.Secrets)
	if err != nil {
		return r.commandFailed(ctx, result, started, err)
	}

	fmt.Fprintf(r.stdout, "--- %s\n", planned.Step.DisplayName())
	var retries []int
	if command.Retry != nil {
		retries = make([]int, len(command.Retry.Automatic))
	}
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		last := r.attempt(ctx, planned, attempt, secrets)
		result.ExitStatus = last.status
		result.Err = last.err

		if ctx.Err() != nil {
			result.State = pipeline.StateCanceled
			result.Reason = "build canceled"
			break
		}
		if last.passed() {
			result.State = pipeline.StatePassed
			result.Err = nil
			break
		}
		if rule := retryRule(command.Retry, last, retries); rule >= 0 {
			retries[rule]++
			logger.Info("retrying job",
				"attempt", attempt+1,
				"exit_status", last.status,
				"signal", last.signal,
				"error", last.err,
			)
			continue
		}
		if last.status != 0 && command.SoftFail.Matches(last.status) {
			result.State = pipeline.StatePassedWithWarning
			result.Reason = fmt.Sprintf("soft failed with exit status %d", last.status)
			break
		}
		result.State = pipeline.StateFailed
		break
	}
	r.flushOutput()

	if result.State != pipeline.StateCanceled {
		r.uploadArtifacts(ctx, planned, command, &result)
	}
	result.Duration = r.clock.Now().Sub(started)
	return result
}

// commandFailed finishes a command job that never ran.
func (r *Runner) commandFailed(ctx context.Context, result JobResult, started time.Time, err error) JobResult {
	result.State = pipeline.StateFailed
	result.ExitStatus = -1
	result.Err = err
	if ctx.Err() != nil {
		result.State = pipeline.StateCanceled
		result.Reason = "build canceled"
	}
	result.Duration = r.clock.Now().Sub(started)
	return result
}

// attempt runs a command job once on its platform.
func (r *Runner) attempt(ctx context.Context, planned PlannedJob, attempt int, secrets map[string]string) outcome {
	command := planned.Step.Command
	env, err := r.config.Build.jobEnvironment(r.config.Pipeline, planned.Job, attempt)
	if err != nil {
		return outcome{status: -1, err: err}
	}
	maps.Copy(env, secrets)

	if planned.Platform.Kind != pipeline.SandboxHost {
		if err := r.writePipelineFile(); err != nil {
			return outcome{status: -1, err: err}
		}
	}

	attemptCtx := ctx
	timeout := r.config.DefaultTimeout
	if command.TimeoutInMinutes > 0 {
		timeout = time.Duration(command.TimeoutInMinutes) * time.Minute
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	options := process.Options{
		Env:         env,
		Output:      process.OutputPipe,
		OnStdout:    func(chunk []byte) { r.stdout.Write(chunk) },
		OnStderr:    func(chunk []byte) { r.stderr.Write(chunk) },
		GracePeriod: r.config.GracePeriod,
	}
	status, err := r.config.Sandbox.Within(attemptCtx, planned.Platform, r.config.Workspace,
		func(ctx context.Context, environment *sandbox.Environment) (int, error) {
			if environment.InPlace() {
				return r.runLines(ctx, environment, command.Commands, options)
			}
			return environment.Run(ctx, r.nestedArgv(environment, planned.ID, attempt), options)
		})

	result := outcome{status: status, err: err}
	if processErr, ok := process.AsError(err); ok {
		result.signal = processErr.Signal
	}
	switch {
	case ctx.Err() != nil:
		result.reason = reasonCancel
	case attemptCtx.Err() != nil:
		result.reason = reasonTimeout
		result.err = fmt.Errorf("timed out after %s: %w", timeout, err)
	}
	if result.reason != "" && result.signal == "" {
		result.signal = "SIGKILL"
		if r.config.GracePeriod > 0 {
			result.signal = "SIGTERM"
		}
	}
	return result
}

// runLines runs each command line with the shell, stopping at the
// first failure.
func (r *Runner) runLines(ctx context.Context, environment *sandbox.Environment, lines []string, options process.Options) (int, error) {
	for _, line := range lines {
		status, err := environment.Run(ctx, []string{r.config.Shell, "-c", line}, options)
		if err != nil || status != 0 {
			return status, err
		}
	}
	return 0, nil
}

// nestedArgv is the command that runs one job inside a sandbox: the
// runner itself, reading the materialized pipeline from the copied
// workspace.
func (r *Runner) nestedArgv(environment *sandbox.Environment, jobID string, attempt int) []string {
	workdir := environment.Workdir()
	b := r.config.Build
	return []string{
		environment.RunnerPath(), "run",
		path.Join(workdir, filepath.ToSlash(r.pipelineFile)),
		"--step", jobID,
		"--workspace", workdir,
		"--build-id", b.ID,
		"--branch", b.Branch,
		"--commit", b.Commit,
		"--message", b.Message,
		"--source", b.Source,
		"--attempt", strconv.Itoa(attempt),
	}
}

// writePipelineFile writes the pipeline, with the build env folded
// in, into the workspace for nested invocations. It runs once per
// Runner.
func (r *Runner) writePipelineFile() error {
	if r.pipelineFile != "" {
		return nil
	}
	materialized := *r.config.Pipeline
	materialized.Env = r.config.Build.pipelineEnv(r.config.Pipeline)
	data, err := pipelinedef.Marshal(&materialized, pipelinedef.FormatYAML)
	if err != nil {
		return fmt.Errorf("encoding pipeline for nested run: %w", err)
	}

	name := r.config.Build.ID
	if name == "" {
		name = uuid.NewString()
	}
	relative := filepath.Join(".hangar", "runs", unsafeLockChars.ReplaceAllString(name, "_")+".yaml")
	absolute := filepath.Join(r.config.Workspace, relative)
	if err := os.MkdirAll(filepath.Dir(absolute), 0o755); err != nil {
		return fmt.Errorf("creating nested pipeline directory: %w", err)
	}
	if err := os.WriteFile(absolute, data, 0o644); err != nil {
		return fmt.Errorf("writing nested pipeline: %w", err)
	}
	r.pipelineFile = relative
	return nil
}

// resolveSecrets fetches the values of a step's secrets, keyed by
// environment variable name. Without a builder the values are
// expected in the inherited environment.
func (r *Runner) resolveSecrets(ctx context.Context, secrets map[string]string) (map[string]string, error) {
	if len(secrets) == 0 || r.config.Builder == nil {
		return nil, nil
	}
	values := make(map[string]string, len(secrets))
	for _, name := range slices.Sorted(maps.Keys(secrets)) {
		value, err := r.config.Builder.GetSecret(ctx, secrets[name])
		if err != nil {
			return nil, fmt.Errorf("secret %s for %s: %w", secrets[name], name, err)
		}
		values[name] = value
	}
	return values, nil
}

// uploadArtifacts uploads a finished job's artifact paths. An upload
// failure fails a job that otherwise passed.
func (r *Runner) uploadArtifacts(ctx context.Context, planned PlannedJob, command *schema.CommandStep, result *JobResult) {
	if r.config.Builder == nil || len(command.ArtifactPaths) == 0 {
		return
	}
	var errs []error
	for _, pattern := range command.ArtifactPaths {
		if err := r.config.Builder.UploadArtifact(ctx, planned.ID, r.config.Workspace, pattern); err != nil {
			r.logger.Error("uploading artifacts", "job", planned.ID, "pattern", pattern, "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return
	}
	if result.State == pipeline.StatePassed || result.State == pipeline.StatePassedWithWarning {
		result.State = pipeline.StateFailed
		result.Reason = "artifact upload failed"
		result.Err = errors.Join(errs...)
	}
}

func (r *Runner) flushOutput() {
	if err := r.stdout.Flush(); err != nil {
		r.logger.Warn("flushing output", "error", err)
	}
	if err := r.stderr.Flush(); err != nil {
		r.logger.Warn("flushing output", "error", err)
	}
}

func (r *Runner) lockDir() string {
	if r.config.LockDir != "" {
		return r.config.LockDir
	}
	return filepath.Join(os.TempDir(), "hangar-locks")
}

// retryRule returns the index of the automatic retry rule that allows
// another attempt, or -1. The first matching rule decides; once its
// limit is used up no later rule is consulted.
func retryRule(retry *schema.Retry, last outcome, used []int) int {
	if retry == nil {
		return -1
	}
	for index, rule := range retry.Automatic {
		if !ruleMatches(rule, last) {
			continue
		}
		if used[index] < rule.Limit {
			return index
		}
		return -1
	}
	return -1
}

func ruleMatches(rule schema.AutomaticRetry, last outcome) bool {
	if !rule.ExitStatus.Matches(last.status) {
		return false
	}
	switch rule.Signal {
	case "", "*":
	default:
		if signalName(rule.Signal) != signalName(last.signal) {
			return false
		}
	}
	switch rule.SignalReason {
	case "", "*":
		return true
	case "none":
		return last.reason == "" && last.signal == ""
	default:
		return rule.SignalReason == last.reason
	}
}

// signalName canonicalizes "kill", "SIGKILL" and "sigkill" alike.
func signalName(name string) string {
	return strings.TrimPrefix(strings.ToUpper(name), "SIG")
}
