// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"errors"
	"slices"
	"testing"

	"github.com/hangar-build/hangar/lib/pipeline"
	"github.com/hangar-build/hangar/lib/pipelinedef"
	schema "github.com/hangar-build/hangar/lib/schema/pipeline"
)

func parsePipeline(t *testing.T, source string) *schema.Pipeline {
	t.Helper()
	p, err := pipelinedef.Parse([]byte(source), pipelinedef.FormatYAML)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return p
}

func TestNewPlan(t *testing.T) {
	t.Parallel()
	p := parsePipeline(t, `
agents:
  os: linux
steps:
  - key: unit
    command: make test
    matrix: [amd64, arm64]
    agents:
      arch: "{{matrix}}"
  - key: docs
    command: make docs
    agents:
      os: macos
  - wait
  - key: publish
    command: make publish
    branches: "main release/*"
`)
	plan, err := NewPlan(p, Build{Branch: "feature/x"})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	var ids []string
	for _, job := range plan.Ordered() {
		ids = append(ids, job.ID)
	}
	if want := []string{"unit[amd64]", "unit[arm64]", "docs", "step#3", "publish"}; !slices.Equal(ids, want) {
		t.Fatalf("ordered IDs = %v, want %v", ids, want)
	}

	for _, job := range plan.Jobs {
		switch job.ID {
		case "unit[arm64]":
			if job.Platform != (pipeline.Platform{Family: "linux", Arch: "arm64", Kind: pipeline.SandboxContainer}) {
				t.Errorf("unit[arm64] platform = %+v", job.Platform)
			}
		case "docs":
			if job.Platform.Kind != pipeline.SandboxVM || job.Platform.Family != "macos" {
				t.Errorf("docs platform = %+v", job.Platform)
			}
		case "step#3":
			if job.Kind != schema.KindWait {
				t.Errorf("step#3 kind = %s", job.Kind)
			}
			if want := []string{"unit[amd64]", "unit[arm64]", "docs"}; !slices.Equal(job.Dependencies, want) {
				t.Errorf("wait dependencies = %v, want %v", job.Dependencies, want)
			}
		case "publish":
			if job.SkipReason == "" {
				t.Error("publish not skipped on a feature branch")
			}
		}
	}
}

func TestNewPlanConditionError(t *testing.T) {
	t.Parallel()
	p := parsePipeline(t, `
steps:
  - key: broken
    command: make
    if: build.branch ==
`)
	_, err := NewPlan(p, Build{})
	var conditionErr *ConditionError
	if !errors.As(err, &conditionErr) || conditionErr.Step != "broken" {
		t.Errorf("err = %v, want ConditionError for broken", err)
	}
}

func TestNewPlanConditionUsesBuildEnv(t *testing.T) {
	t.Parallel()
	p := parsePipeline(t, `
env:
  DEPLOY: "no"
steps:
  - key: deploy
    command: make deploy
    if: build.env.DEPLOY == "yes"
`)
	plan, err := NewPlan(p, Build{})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if plan.Jobs[0].SkipReason == "" {
		t.Error("deploy not skipped with DEPLOY=no")
	}

	plan, err = NewPlan(p, Build{Env: map[string]string{"DEPLOY": "yes"}})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if plan.Jobs[0].SkipReason != "" {
		t.Errorf("deploy skipped with DEPLOY=yes: %s", plan.Jobs[0].SkipReason)
	}
}
