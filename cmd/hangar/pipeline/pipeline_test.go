// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"bytes"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	libpipeline "github.com/hangar-build/hangar/lib/pipeline"
	"github.com/hangar-build/hangar/lib/pipelinedef"
	"github.com/hangar-build/hangar/lib/runner"
	"github.com/hangar-build/hangar/lib/testutil"
)

const releasePipeline = `
agents:
  os: linux
steps:
  - key: unit
    label: Unit tests
    command: make test
    matrix: [amd64, arm64]
    agents:
      arch: "{{matrix}}"
  - wait
  - key: publish
    command: make publish
    branches: main
`

func writePipeline(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{name: content})
	return filepath.Join(dir, name)
}

func TestValidateFile(t *testing.T) {
	t.Parallel()
	path := writePipeline(t, "pipeline.yml", releasePipeline)

	var stdout, stderr bytes.Buffer
	if err := validateFile(&stdout, &stderr, path); err != nil {
		t.Fatalf("validateFile: %v", err)
	}
	if want := path + ": valid (4 jobs)\n"; stdout.String() != want {
		t.Errorf("stdout = %q, want %q", stdout.String(), want)
	}
}

func TestValidateFileListsEveryIssue(t *testing.T) {
	t.Parallel()
	path := writePipeline(t, "pipeline.yml", `
steps:
  - command: make
    bogus: true
  - key: build
    block: Gate
    command: make
`)

	var stdout, stderr bytes.Buffer
	err := validateFile(&stdout, &stderr, path)
	if err == nil || !strings.Contains(err.Error(), "validation issue(s) found") {
		t.Fatalf("err = %v, want a validation failure", err)
	}
	if lines := strings.Count(stderr.String(), "  - "); lines < 2 {
		t.Errorf("stderr lists %d issues, want at least 2:\n%s", lines, stderr.String())
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty", stdout.String())
	}
}

func TestValidateFileRejectsDependencyErrors(t *testing.T) {
	t.Parallel()
	path := writePipeline(t, "pipeline.json", `{
  // JSONC comments are allowed.
  "steps": [
    {"key": "deploy", "command": "make deploy", "depends_on": "build"},
  ]
}`)

	var stdout, stderr bytes.Buffer
	err := validateFile(&stdout, &stderr, path)
	var dependencyErr *libpipeline.DependencyError
	if !errors.As(err, &dependencyErr) {
		t.Fatalf("err = %v, want a DependencyError", err)
	}
}

func TestValidateFileUnsupportedFormat(t *testing.T) {
	t.Parallel()
	path := writePipeline(t, "pipeline.toml", "steps = []")

	var stdout, stderr bytes.Buffer
	err := validateFile(&stdout, &stderr, path)
	var formatErr *pipelinedef.UnsupportedFormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("err = %v, want an UnsupportedFormatError", err)
	}
}

func TestPlanJobs(t *testing.T) {
	t.Parallel()
	definition, err := pipelinedef.Parse([]byte(releasePipeline), pipelinedef.FormatYAML)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	plan, err := runner.NewPlan(definition, runner.Build{Branch: "feature"})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	jobs := planJobs(plan)
	var ids []string
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	if want := []string{"unit[amd64]", "unit[arm64]", "step#2", "publish"}; !slices.Equal(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	if jobs[0].Label != "Unit tests" || len(jobs[0].Matrix) != 1 {
		t.Errorf("first job = %+v", jobs[0])
	}
	if !strings.HasPrefix(jobs[1].Platform, "container:linux/arm64") {
		t.Errorf("unit[arm64] platform = %q", jobs[1].Platform)
	}
	if jobs[2].Platform != "" || len(jobs[2].Dependencies) != 2 {
		t.Errorf("wait job = %+v", jobs[2])
	}
	if jobs[3].Skip == "" {
		t.Error("publish is not skipped on a feature branch")
	}

	var buffer bytes.Buffer
	writePlan(&buffer, jobs)
	output := buffer.String()
	for _, want := range []string{"  1. unit[amd64] Unit tests", "after: unit[amd64], unit[arm64]", "skip: branch"} {
		if !strings.Contains(output, want) {
			t.Errorf("plan output missing %q:\n%s", want, output)
		}
	}
}

func TestWriteSummary(t *testing.T) {
	t.Parallel()
	summary := &runner.Summary{
		RunID: "run-1",
		State: runner.BuildBlocked,
		Jobs: []runner.JobResult{
			{ID: "build", State: libpipeline.StatePassed, Platform: "container:linux", Attempts: 2, Duration: 1500 * time.Millisecond},
			{ID: "release", State: libpipeline.StateBlocked, Reason: "waiting to be unblocked"},
		},
		Notifications: []runner.Notification{{Kind: "slack", Target: "#builds"}},
		Duration:      2 * time.Second,
	}

	var buffer bytes.Buffer
	writeSummary(&buffer, summary)
	output := buffer.String()
	for _, want := range []string{
		"passed               build on container:linux (2 attempts) 1.5s",
		"blocked              release: waiting to be unblocked",
		"notify slack #builds",
		"Build blocked in 2s",
		"Continue with --unblock for: release",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("summary missing %q:\n%s", want, output)
		}
	}
}
