// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/pflag"

	"github.com/hangar-build/hangar/cmd/hangar/cli"
	"github.com/hangar-build/hangar/lib/git"
	"github.com/hangar-build/hangar/lib/pipelinedef"
	"github.com/hangar-build/hangar/lib/runner"
)

type planParams struct {
	cli.JSONOutput
	Branch  string `flag:"branch" desc:"branch the plan is resolved for (default: current git branch)"`
	Commit  string `flag:"commit" desc:"commit the plan is resolved for (default: current git HEAD)"`
	Message string `flag:"message" desc:"build message used by if conditions"`
}

// planJob is the --json form of one planned job.
type planJob struct {
	ID           string            `json:"id"`
	Label        string            `json:"label"`
	Kind         string            `json:"kind"`
	Group        string            `json:"group,omitempty"`
	Platform     string            `json:"platform,omitempty"`
	Matrix       map[string]string `json:"matrix,omitempty"`
	Parallel     string            `json:"parallel,omitempty"`
	Dependencies []string          `json:"dependencies"`
	Skip         string            `json:"skip,omitempty"`
}

// PlanCommand returns the "plan" command.
func PlanCommand() *cli.Command {
	var params planParams
	return &cli.Command{
		Name:    "plan",
		Summary: "Show the resolved job order of a pipeline",
		Description: `Resolve a pipeline into jobs and print them in execution order.
Groups are flattened and matrix and parallel steps are expanded. Each
command job shows the platform it will run on. Jobs skipped by branch
filters or if conditions are marked with the reason.`,
		Usage: "hangar plan <file> [flags]",
		Examples: []cli.Example{
			{
				Description: "Plan for the current branch",
				Command:     "hangar plan .hangar/pipeline.yml",
			},
			{
				Description: "Plan for main as JSON",
				Command:     "hangar plan .hangar/pipeline.yml --branch main --json",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("plan", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: hangar plan <file> [flags]")
			}
			path := args[0]
			definition, err := pipelinedef.ReadFile(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			build := runner.Build{Branch: params.Branch, Commit: params.Commit, Message: params.Message}
			fillFromGit(ctx, &build, filepath.Dir(path), logger)

			plan, err := runner.NewPlan(definition, build)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			jobs := planJobs(plan)
			if done, err := params.EmitJSON(jobs); done {
				return err
			}
			writePlan(os.Stdout, jobs)
			return nil
		},
	}
}

func planJobs(plan *runner.Plan) []planJob {
	var jobs []planJob
	for _, planned := range plan.Ordered() {
		job := planJob{
			ID:           planned.ID,
			Label:        planned.Step.DisplayName(),
			Kind:         string(planned.Kind),
			Group:        planned.Group,
			Matrix:       planned.Matrix,
			Dependencies: planned.Dependencies,
			Skip:         planned.SkipReason,
		}
		if planned.Step.Command != nil {
			job.Platform = planned.Platform.String()
		}
		if planned.ParallelCount > 0 {
			job.Parallel = fmt.Sprintf("%d/%d", planned.ParallelIndex+1, planned.ParallelCount)
		}
		if job.Dependencies == nil {
			job.Dependencies = []string{}
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func writePlan(w io.Writer, jobs []planJob) {
	styles := cli.NewStyles(w)
	for index, job := range jobs {
		line := fmt.Sprintf("%3d. %s", index+1, styles.Heading.Render(job.ID))
		if job.Label != job.ID {
			line += " " + styles.Muted.Render(job.Label)
		}
		fmt.Fprintln(w, line)

		details := []string{job.Kind}
		if job.Platform != "" {
			details = append(details, job.Platform)
		}
		if job.Group != "" {
			details = append(details, "group "+job.Group)
		}
		if len(job.Matrix) > 0 {
			var values []string
			for _, dimension := range slices.Sorted(maps.Keys(job.Matrix)) {
				values = append(values, dimension+"="+job.Matrix[dimension])
			}
			details = append(details, "matrix "+strings.Join(values, ","))
		}
		if job.Parallel != "" {
			details = append(details, "parallel "+job.Parallel)
		}
		fmt.Fprintf(w, "     %s\n", strings.Join(details, "  "))
		if len(job.Dependencies) > 0 {
			fmt.Fprintf(w, "     after: %s\n", strings.Join(job.Dependencies, ", "))
		}
		if job.Skip != "" {
			fmt.Fprintf(w, "     %s\n", styles.Warn.Render("skip: "+job.Skip))
		}
	}
}

// fillFromGit fills unset branch, commit and message from the
// repository containing dir. Outside a repository they stay empty.
func fillFromGit(ctx context.Context, build *runner.Build, dir string, logger *slog.Logger) {
	if build.Branch != "" && build.Commit != "" && build.Message != "" {
		return
	}
	head, err := git.NewRepository(dir).Head(ctx)
	if err != nil {
		logger.Debug("no git revision for build", "dir", dir, "error", err)
		return
	}
	if build.Branch == "" {
		build.Branch = head.Branch
	}
	if build.Commit == "" {
		build.Commit = head.Commit
	}
	if build.Message == "" {
		build.Message = head.Message
	}
}
