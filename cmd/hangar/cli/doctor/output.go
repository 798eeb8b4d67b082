// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package doctor

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hangar-build/hangar/cmd/hangar/cli"
)

// PrintChecklist writes results as a checklist to w. It returns an
// ExitError with code 1 when any check failed.
func PrintChecklist(w io.Writer, results []Result, fixMode, dryRun bool) error {
	styles := cli.NewStyles(w)
	fixable := 0
	fixed := 0

	for _, result := range results {
		tag := fmt.Sprintf("[%-5s]", strings.ToUpper(string(result.Status)))
		fmt.Fprintf(w, "%s  %-32s  %s\n", statusStyle(styles, result.Status).Render(tag), result.Name, result.Message)

		switch result.Status {
		case StatusFail:
			if result.FixHint != "" {
				fixable++
				if dryRun {
					fmt.Fprintf(w, "         %-32s  would fix: %s\n", "", result.FixHint)
				}
			}
		case StatusFixed:
			fixed++
		}
	}
	fmt.Fprintln(w)

	if AnyFailed(results) {
		switch {
		case dryRun && fixable > 0:
			fmt.Fprintf(w, "%d issue(s) would be repaired. Run without --dry-run to apply.\n", fixable)
		case !fixMode && fixable > 0:
			fmt.Fprintf(w, "Run with --fix to repair %d issue(s).\n", fixable)
		default:
			fmt.Fprintln(w, "Some checks failed.")
		}
		return &cli.ExitError{Code: 1}
	}
	if fixed > 0 {
		fmt.Fprintf(w, "%d issue(s) repaired.\n", fixed)
		return nil
	}
	fmt.Fprintln(w, "All checks passed.")
	return nil
}

func statusStyle(styles *cli.Styles, status Status) lipgloss.Style {
	switch status {
	case StatusPass, StatusFixed:
		return styles.Pass
	case StatusWarn:
		return styles.Warn
	case StatusFail:
		return styles.Fail
	default:
		return styles.Muted
	}
}
