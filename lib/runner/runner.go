// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/hangar-build/hangar/lib/builder"
	"github.com/hangar-build/hangar/lib/clock"
	"github.com/hangar-build/hangar/lib/pipeline"
	schema "github.com/hangar-build/hangar/lib/schema/pipeline"
	"github.com/hangar-build/hangar/sandbox"
)

// Config configures a Runner.
type Config struct {
	Pipeline *schema.Pipeline

	// Name identifies the pipeline in logs and the result log,
	// usually its file path.
	Name string

	// PipelineDir resolves relative trigger paths. Defaults to
	// Workspace.
	PipelineDir string

	// Workspace is the host directory commands run in.
	Workspace string

	Build Build

	// Attempt numbers the attempt RunStep makes. Defaults to 1.
	Attempt int

	// Unblock lists block and input step keys (or job IDs) that
	// count as unblocked.
	Unblock []string

	// FieldValues supplies block and input field values by field
	// key.
	FieldValues map[string]string

	// Builder reports to the CI backend. Nil disables secrets,
	// metadata and artifacts, as in nested invocations where the
	// host handles them.
	Builder builder.Builder

	Sandbox *sandbox.Manager

	// Shell runs each command line as Shell -c LINE.
	Shell string

	// DefaultTimeout bounds attempts of steps without
	// timeout_in_minutes. Zero means no limit.
	DefaultTimeout time.Duration

	// GracePeriod is the SIGTERM to SIGKILL delay on cancellation.
	GracePeriod time.Duration

	// LockDir holds concurrency group lock files.
	LockDir string

	Result *ResultLog

	Stdout io.Writer
	Stderr io.Writer

	Clock  clock.Clock
	Logger *slog.Logger

	// depth counts trigger nesting.
	depth int
}

// maxTriggerDepth bounds chains of triggered pipelines.
const maxTriggerDepth = 5

// Runner executes one pipeline.
type Runner struct {
	config Config
	plan   *Plan
	logger *slog.Logger
	clock  clock.Clock

	stdout *builder.Writer
	stderr *builder.Writer

	// pipelineFile is the workspace-relative copy of the pipeline
	// nested invocations read. Empty until first needed.
	pipelineFile string

	// async holds triggered builds that run after this one.
	async []*Runner
}

// New resolves the pipeline's plan. Errors are fatal: nothing has run.
func New(config Config) (*Runner, error) {
	if config.Pipeline == nil {
		return nil, errors.New("runner: no pipeline")
	}
	if config.Sandbox == nil {
		return nil, errors.New("runner: no sandbox manager")
	}
	if config.Workspace == "" {
		return nil, errors.New("runner: no workspace")
	}
	if config.PipelineDir == "" {
		config.PipelineDir = config.Workspace
	}
	if config.Build.Source == "" {
		config.Build.Source = "local"
	}
	if config.Attempt <= 0 {
		config.Attempt = 1
	}
	if config.Shell == "" {
		config.Shell = "sh"
	}
	if config.Stdout == nil {
		config.Stdout = os.Stdout
	}
	if config.Stderr == nil {
		config.Stderr = os.Stderr
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	plan, err := NewPlan(config.Pipeline, config.Build)
	if err != nil {
		return nil, err
	}

	redactor := builder.NewRedactor()
	if config.Builder != nil {
		redactor = config.Builder.Redactor()
	}
	return &Runner{
		config: config,
		plan:   plan,
		logger: config.Logger.With("pipeline", config.Name, "build", config.Build.ID),
		clock:  config.Clock,
		stdout: redactor.Writer(config.Stdout),
		stderr: redactor.Writer(config.Stderr),
	}, nil
}

// Plan returns the resolved plan.
func (r *Runner) Plan() *Plan { return r.plan }

// Run executes every job in dependency order and returns the
// outcome. The error is non-nil only for failures of the runner
// itself; failing jobs are reported in the Summary.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	started := r.clock.Now()
	graph := r.plan.Graph
	r.config.Result.writeStart(r.config.Build.ID, r.config.Name, graph.Len(), started)
	defer r.removePipelineFile()

	if r.config.Builder != nil {
		r.config.Builder.Secrets().Supervise(ctx)
	}

	states := make([]pipeline.State, graph.Len())
	for index := range states {
		states[index] = pipeline.StatePending
	}
	results := make([]JobResult, graph.Len())
	canceled := false

	for {
		decisions := graph.Ready(states)
		if len(decisions) == 0 {
			break
		}
		decision := decisions[0]
		planned := r.plan.Jobs[decision.Index]

		var result JobResult
		switch {
		case ctx.Err() != nil:
			canceled = true
			result = r.finish(planned, pipeline.StateCanceled, "build canceled", r.clock.Now())
		case decision.Action == pipeline.ActionCancel:
			result = r.finish(planned, pipeline.StateCanceled, decision.Reason, r.clock.Now())
		case decision.Action == pipeline.ActionBlock:
			result = r.finish(planned, pipeline.StateBlocked, decision.Reason, r.clock.Now())
		case planned.SkipReason != "":
			result = r.finish(planned, pipeline.StateSkipped, planned.SkipReason, r.clock.Now())
		case (planned.Kind == schema.KindBlock || planned.Kind == schema.KindInput) && !r.unblocked(planned):
			result = r.finish(planned, pipeline.StateBlocked, "waiting to be unblocked", r.clock.Now())
		default:
			if err := pipeline.Transition(states[decision.Index], pipeline.StateRunning); err != nil {
				return nil, err
			}
			states[decision.Index] = pipeline.StateRunning
			result = r.runJob(ctx, planned)
			if result.State == pipeline.StateCanceled && ctx.Err() != nil {
				canceled = true
			}
		}

		if err := pipeline.Transition(states[decision.Index], result.State); err != nil {
			return nil, fmt.Errorf("job %s: %w", planned.ID, err)
		}
		states[decision.Index] = result.State
		results[decision.Index] = result
		r.config.Result.writeJob(result)
		r.logger.Info("job finished",
			"job", result.ID,
			"state", string(result.State),
			"exit_status", result.ExitStatus,
			"duration", result.Duration,
		)
	}

	summary := &Summary{RunID: r.config.Build.ID}
	for _, index := range graph.Order() {
		summary.Jobs = append(summary.Jobs, results[index])
	}
	summary.State = r.buildState(summary.Jobs, canceled)

	for _, child := range r.async {
		childSummary, err := child.Run(ctx)
		if err != nil {
			r.logger.Error("async triggered build failed to run", "pipeline", child.config.Name, "error", err)
			continue
		}
		summary.Triggered = append(summary.Triggered, childSummary)
	}

	summary.Notifications = r.notifications(summary.State)
	for _, notification := range summary.Notifications {
		r.config.Result.writeNotify(notification)
	}

	summary.Duration = r.clock.Now().Sub(started)
	r.config.Result.writeComplete(summary.State, summary.Duration)
	return summary, nil
}

// RunStep runs a single attempt of one command job and returns its
// exit status. It is the nested half of sandboxed execution: retries,
// secrets and artifacts belong to the invoking host.
func (r *Runner) RunStep(ctx context.Context, id string) (int, error) {
	index, _, ok := r.plan.Graph.Job(id)
	if !ok {
		return -1, fmt.Errorf("%q: %w", id, ErrStepNotFound)
	}
	planned := r.plan.Jobs[index]
	if planned.Step.Command == nil {
		return -1, fmt.Errorf("step %q is a %s step; only command steps run nested", id, planned.Kind)
	}
	outcome := r.attempt(ctx, planned, r.config.Attempt, nil)
	return outcome.status, outcome.err
}

// runJob runs a job whose dependencies allow it.
func (r *Runner) runJob(ctx context.Context, planned PlannedJob) JobResult {
	started := r.clock.Now()
	if r.config.Builder != nil {
		if err := r.config.Builder.Secrets().Err(); err != nil {
			result := r.finish(planned, pipeline.StateFailed, "secrets session failed", started)
			result.Err = err
			return result
		}
	}

	result, err := schema.Dispatch(planned.Step, schema.Handlers[JobResult]{
		Command: func(step schema.Step, command *schema.CommandStep) (JobResult, error) {
			return r.runCommand(ctx, planned, command), nil
		},
		Block: func(step schema.Step, block *schema.BlockStep) (JobResult, error) {
			return r.runBlock(ctx, planned, block.Fields), nil
		},
		Input: func(step schema.Step, input *schema.InputStep) (JobResult, error) {
			return r.runBlock(ctx, planned, input.Fields), nil
		},
		Wait: func(step schema.Step, wait *schema.WaitStep) (JobResult, error) {
			return r.finish(planned, pipeline.StatePassed, "", started), nil
		},
		Trigger: func(step schema.Step, trigger *schema.TriggerStep) (JobResult, error) {
			return r.runTrigger(ctx, planned, trigger), nil
		},
	})
	if err != nil {
		result = r.finish(planned, pipeline.StateFailed, "", started)
		result.Err = err
	}
	return result
}

// finish builds a result with no command outcome.
func (r *Runner) finish(planned PlannedJob, state pipeline.State, reason string, started time.Time) JobResult {
	result := JobResult{
		ID:       planned.ID,
		Label:    planned.Step.DisplayName(),
		Kind:     planned.Kind,
		State:    state,
		Reason:   reason,
		Duration: r.clock.Now().Sub(started),
	}
	if planned.Step.Command != nil {
		result.Platform = planned.Platform.String()
	}
	return result
}

// buildState derives the run outcome from its jobs.
func (r *Runner) buildState(results []JobResult, canceled bool) BuildState {
	if canceled {
		return BuildCanceled
	}
	blocked := false
	for _, result := range results {
		switch result.State {
		case pipeline.StateFailed, pipeline.StateCanceled:
			return BuildFailed
		case pipeline.StateBlocked:
			index, _, _ := r.plan.Graph.Job(result.ID)
			if block := r.plan.Jobs[index].Step.Block; block != nil && block.BlockedState == "failed" {
				return BuildFailed
			}
			blocked = true
		}
	}
	if blocked {
		return BuildBlocked
	}
	return BuildPassed
}

// notifications returns the pipeline notifications whose condition
// holds for the finished build.
func (r *Runner) notifications(state BuildState) []Notification {
	vars := r.config.Build.Variables(r.config.Pipeline)
	vars["build.state"] = string(state)

	var matched []Notification
	for _, notify := range r.config.Pipeline.Notify {
		if notify.If != "" {
			ok, err := pipeline.EvaluateCondition(notify.If, vars)
			if err != nil {
				r.logger.Warn("skipping notification", "kind", notify.Kind, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, Notification{Kind: notify.Kind, Target: notify.Target, Options: notify.Options})
	}
	return matched
}

// unblocked reports whether a block or input job was released.
func (r *Runner) unblocked(planned PlannedJob) bool {
	return slices.Contains(r.config.Unblock, planned.ID) ||
		(planned.Step.Key != "" && slices.Contains(r.config.Unblock, planned.Step.Key))
}

func (r *Runner) removePipelineFile() {
	if r.pipelineFile == "" {
		return
	}
	if err := os.Remove(filepath.Join(r.config.Workspace, r.pipelineFile)); err != nil {
		r.logger.Warn("removing nested pipeline file", "error", err)
	}
}
