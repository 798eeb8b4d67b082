// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hangar-build/hangar/cmd/hangar/cli"
	libpipeline "github.com/hangar-build/hangar/lib/pipeline"
	"github.com/hangar-build/hangar/lib/runner"
)

// writeSummary prints one line per job, the notifications that
// matched, and the build verdict.
func writeSummary(w io.Writer, summary *runner.Summary) {
	writeSummaryIndented(w, cli.NewStyles(w), summary, "")
}

func writeSummaryIndented(w io.Writer, styles *cli.Styles, summary *runner.Summary, indent string) {
	fmt.Fprintln(w)
	for _, job := range summary.Jobs {
		tag := fmt.Sprintf("%-19s", string(job.State))
		line := fmt.Sprintf("%s%s  %s", indent, jobStyle(styles, job.State).Render(tag), job.ID)
		if job.Platform != "" && job.Platform != "host" {
			line += " " + styles.Muted.Render("on "+job.Platform)
		}
		if job.Attempts > 1 {
			line += fmt.Sprintf(" (%d attempts)", job.Attempts)
		}
		if job.Duration > 0 {
			line += " " + styles.Muted.Render(job.Duration.Round(time.Millisecond).String())
		}
		if job.Reason != "" {
			line += ": " + job.Reason
		}
		fmt.Fprintln(w, line)
	}

	for _, notification := range summary.Notifications {
		target := notification.Target
		if target == "" {
			target = "(configured)"
		}
		fmt.Fprintf(w, "%snotify %s %s\n", indent, notification.Kind, target)
	}

	for _, triggered := range summary.Triggered {
		fmt.Fprintf(w, "%striggered build %s:\n", indent, triggered.RunID)
		writeSummaryIndented(w, styles, triggered, indent+"  ")
	}

	verdict := fmt.Sprintf("Build %s in %s", summary.State, summary.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "\n%s%s\n", indent, buildStyle(styles, summary.State).Render(verdict))
	if summary.State == runner.BuildBlocked {
		var blocked []string
		for _, job := range summary.Jobs {
			if job.State == libpipeline.StateBlocked {
				blocked = append(blocked, job.ID)
			}
		}
		fmt.Fprintf(w, "%sContinue with --unblock for: %s\n", indent, strings.Join(blocked, ", "))
	}
}

func jobStyle(styles *cli.Styles, state libpipeline.State) lipgloss.Style {
	switch state {
	case libpipeline.StatePassed:
		return styles.Pass
	case libpipeline.StatePassedWithWarning, libpipeline.StateBlocked:
		return styles.Warn
	case libpipeline.StateFailed, libpipeline.StateCanceled:
		return styles.Fail
	default:
		return styles.Muted
	}
}

func buildStyle(styles *cli.Styles, state runner.BuildState) lipgloss.Style {
	switch state {
	case runner.BuildPassed:
		return styles.Pass.Bold(true)
	case runner.BuildBlocked:
		return styles.Warn.Bold(true)
	default:
		return styles.Fail
	}
}
