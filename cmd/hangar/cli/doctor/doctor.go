// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package doctor

import (
	"context"
	"fmt"
)

// Status is the outcome of a single check.
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusWarn  Status = "warn"
	StatusSkip  Status = "skip"
	StatusFixed Status = "fixed"
)

// FixAction repairs a failed check. Its dependencies are captured in
// the closure when the check runs.
type FixAction func(ctx context.Context) error

// Result holds the outcome of a single check.
type Result struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	FixHint string `json:"fix_hint,omitempty"`
	fix     FixAction
}

// HasFix reports whether this result carries a fix action.
func (r *Result) HasFix() bool {
	return r.fix != nil
}

// Pass creates a passing result.
func Pass(name, message string) Result {
	return Result{Name: name, Status: StatusPass, Message: message}
}

// Fail creates a failing result with no automatic fix.
func Fail(name, message string) Result {
	return Result{Name: name, Status: StatusFail, Message: message}
}

// FailWithFix creates a failing result that --fix can repair.
func FailWithFix(name, message, fixHint string, fix FixAction) Result {
	return Result{Name: name, Status: StatusFail, Message: message, FixHint: fixHint, fix: fix}
}

// Warn creates a warning. Warnings do not fail the command.
func Warn(name, message string) Result {
	return Result{Name: name, Status: StatusWarn, Message: message}
}

// Skip creates a skipped result, used when a prerequisite failed.
func Skip(name, message string) Result {
	return Result{Name: name, Status: StatusSkip, Message: message}
}

// ExecuteFixes runs the fix of every fixable failure, updating
// results in place, and returns how many succeeded. Dry runs execute
// nothing.
func ExecuteFixes(ctx context.Context, results []Result, dryRun bool) int {
	if dryRun {
		return 0
	}
	fixed := 0
	for i := range results {
		if results[i].Status != StatusFail || results[i].fix == nil {
			continue
		}
		if err := results[i].fix(ctx); err != nil {
			results[i].Message = fmt.Sprintf("%s (fix failed: %v)", results[i].Message, err)
			continue
		}
		results[i].Status = StatusFixed
		fixed++
	}
	return fixed
}

// JSONOutput is the --json output of doctor commands.
type JSONOutput struct {
	Checks []Result `json:"checks"`
	OK     bool     `json:"ok"`
	DryRun bool     `json:"dry_run,omitempty"`
}

// BuildJSON builds the JSON output from results.
func BuildJSON(results []Result, dryRun bool) JSONOutput {
	return JSONOutput{Checks: results, OK: !AnyFailed(results), DryRun: dryRun}
}

// AnyFailed reports whether any result failed.
func AnyFailed(results []Result) bool {
	for _, result := range results {
		if result.Status == StatusFail {
			return true
		}
	}
	return false
}
