// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hangar-build/hangar/lib/pipeline"
	schema "github.com/hangar-build/hangar/lib/schema/pipeline"
)

// PlannedJob is a job with everything resolved that can be resolved
// before the run starts.
type PlannedJob struct {
	pipeline.Job

	Kind schema.StepKind

	// Platform is set for command jobs.
	Platform pipeline.Platform

	// Dependencies are the IDs of the jobs this one waits for.
	Dependencies []string

	// SkipReason is non-empty when the job will be skipped.
	SkipReason string
}

// Plan is the resolved job graph of a pipeline for one build.
type Plan struct {
	Graph *pipeline.Graph

	// Jobs is indexed like the graph.
	Jobs []PlannedJob
}

// NewPlan resolves p for build. It fails on dependency errors,
// unsupported platforms and malformed if conditions.
func NewPlan(p *schema.Pipeline, build Build) (*Plan, error) {
	graph, err := pipeline.NewGraph(p.Steps)
	if err != nil {
		return nil, err
	}
	vars := build.Variables(p)

	plan := &Plan{Graph: graph, Jobs: make([]PlannedJob, graph.Len())}
	var errs []error
	for index, job := range graph.Jobs() {
		planned := PlannedJob{Job: job, Kind: job.Step.Kind()}
		for _, edge := range graph.Dependencies(index) {
			planned.Dependencies = append(planned.Dependencies, graph.Jobs()[edge.From].ID)
		}

		if command := job.Step.Command; command != nil {
			platform, err := pipeline.ResolvePlatform(pipeline.ResolveAgents(p.Agents, command.Agents))
			if err != nil {
				var unsupported *pipeline.UnsupportedPlatformError
				if errors.As(err, &unsupported) {
					unsupported.Step = job.ID
				}
				errs = append(errs, err)
			}
			planned.Platform = platform
		}

		reason, err := skipReason(job, build, vars)
		if err != nil {
			errs = append(errs, &ConditionError{Step: job.ID, Err: err})
		}
		planned.SkipReason = reason
		plan.Jobs[index] = planned
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return plan, nil
}

// Ordered returns the jobs in execution order.
func (p *Plan) Ordered() []PlannedJob {
	ordered := make([]PlannedJob, 0, len(p.Jobs))
	for _, index := range p.Graph.Order() {
		ordered = append(ordered, p.Jobs[index])
	}
	return ordered
}

// skipReason decides whether a job is skipped by its own attributes,
// its branch filter or its if condition.
func skipReason(job pipeline.Job, build Build, vars map[string]string) (string, error) {
	step := job.Step
	switch {
	case step.Command != nil && step.Command.Skip.Skipped:
		return skipText(step.Command.Skip), nil
	case step.Trigger != nil && step.Trigger.Skip.Skipped:
		return skipText(step.Trigger.Skip), nil
	}
	if step.Branches != "" && !pipeline.MatchBranches(step.Branches, build.Branch) {
		return fmt.Sprintf("branch %q does not match %q", build.Branch, step.Branches), nil
	}
	if step.If != "" {
		matched, err := pipeline.EvaluateCondition(step.If, vars)
		if err != nil {
			return "", err
		}
		if !matched {
			return "condition is false: " + strings.TrimSpace(step.If), nil
		}
	}
	return "", nil
}

func skipText(skip schema.Skip) string {
	if skip.Reason != "" {
		return skip.Reason
	}
	return "skipped"
}
