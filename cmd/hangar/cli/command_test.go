// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestExecuteDispatchesSubcommand(t *testing.T) {
	t.Parallel()
	var gotArgs []string
	var verbose bool
	root := &Command{
		Name: "hangar",
		Subcommands: []*Command{
			{
				Name: "validate",
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("validate", pflag.ContinueOnError)
					flagSet.BoolVar(&verbose, "verbose", false, "")
					return flagSet
				},
				Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
					gotArgs = args
					return nil
				},
			},
		},
	}

	if err := root.Execute(context.Background(), []string{"validate", "--verbose", "pipeline.yml"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !verbose || !slices.Equal(gotArgs, []string{"pipeline.yml"}) {
		t.Errorf("verbose = %v, args = %v", verbose, gotArgs)
	}
}

func TestExecuteSuggestsCommand(t *testing.T) {
	t.Parallel()
	root := &Command{
		Name: "hangar",
		Subcommands: []*Command{
			{Name: "validate", Run: func(context.Context, []string, *slog.Logger) error { return nil }},
			{Name: "plan", Run: func(context.Context, []string, *slog.Logger) error { return nil }},
		},
	}
	err := root.Execute(context.Background(), []string{"valdiate"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "validate"`) {
		t.Errorf("err = %v, want a suggestion", err)
	}
}

func TestExecuteSuggestsFlag(t *testing.T) {
	t.Parallel()
	type params struct {
		Workspace string `flag:"workspace"`
	}
	var p params
	command := &Command{
		Name:  "run",
		Flags: func() *pflag.FlagSet { return FlagsFromParams("run", &p) },
		Run:   func(context.Context, []string, *slog.Logger) error { return nil },
	}
	err := command.Execute(context.Background(), []string{"--worksapce", "dir"})
	if err == nil || !strings.Contains(err.Error(), "did you mean --workspace?") {
		t.Errorf("err = %v, want a flag suggestion", err)
	}
}

func TestExecuteErrorsNameCommandPath(t *testing.T) {
	t.Parallel()
	root := &Command{
		Name: "hangar",
		Subcommands: []*Command{
			{
				Name:  "plan",
				Flags: func() *pflag.FlagSet { return pflag.NewFlagSet("plan", pflag.ContinueOnError) },
				Run:   func(context.Context, []string, *slog.Logger) error { return nil },
			},
		},
	}
	err := root.Execute(context.Background(), []string{"plan", "--bogus"})
	if err == nil || !strings.Contains(err.Error(), "Run 'hangar plan --help' for usage.") {
		t.Errorf("err = %v, want usage hint for hangar plan", err)
	}
	if err := root.Execute(context.Background(), nil); err == nil || err.Error() != "subcommand required" {
		t.Errorf("err = %v, want subcommand required", err)
	}
}

func TestPrintHelp(t *testing.T) {
	t.Parallel()
	root := &Command{
		Name:        "hangar",
		Description: "Run CI pipelines.",
		Subcommands: []*Command{
			{Name: "run", Summary: "Run a pipeline"},
		},
		Examples: []Example{{Description: "Run locally", Command: "hangar run pipeline.yml"}},
	}
	var buffer bytes.Buffer
	root.PrintHelp(&buffer)
	for _, want := range []string{"Run CI pipelines.", "hangar <command> [flags]", "run   Run a pipeline", "# Run locally"} {
		if !strings.Contains(buffer.String(), want) {
			t.Errorf("help missing %q:\n%s", want, buffer.String())
		}
	}
}

func TestExitError(t *testing.T) {
	t.Parallel()
	var err error = &ExitError{Code: 3}
	coder, ok := err.(interface{ ExitCode() int })
	if !ok || coder.ExitCode() != 3 {
		t.Errorf("ExitError does not report code 3")
	}
}
