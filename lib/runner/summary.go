// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"time"

	"github.com/hangar-build/hangar/lib/pipeline"
	schema "github.com/hangar-build/hangar/lib/schema/pipeline"
)

// BuildState is the outcome of a whole run.
type BuildState string

const (
	BuildPassed   BuildState = "passed"
	BuildFailed   BuildState = "failed"
	BuildBlocked  BuildState = "blocked"
	BuildCanceled BuildState = "canceled"
)

// JobResult is the outcome of one job.
type JobResult struct {
	ID    string
	Label string
	Kind  schema.StepKind

	// Platform is the rendered platform of command jobs.
	Platform string

	State      pipeline.State
	ExitStatus int

	// Attempts counts command runs, retries included.
	Attempts int

	Duration time.Duration

	// Reason explains skipped, blocked, canceled and soft-failed jobs.
	Reason string

	Err error
}

// Notification is a notification whose condition held.
type Notification struct {
	Kind    string
	Target  string
	Options map[string]any
}

// Summary is the outcome of a run.
type Summary struct {
	RunID    string
	State    BuildState
	Jobs     []JobResult
	Duration time.Duration

	Notifications []Notification

	// Triggered holds the summaries of async triggered builds.
	Triggered []*Summary
}

// Passed reports whether the run counts as a success.
func (s *Summary) Passed() bool {
	return s.State == BuildPassed
}

// Job returns the result for a job ID.
func (s *Summary) Job(id string) (JobResult, bool) {
	for _, result := range s.Jobs {
		if result.ID == id {
			return result, true
		}
	}
	return JobResult{}, false
}
