// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hangar-build/hangar/cmd/hangar/cli"
	"github.com/hangar-build/hangar/lib/pipelinedef"
	"github.com/hangar-build/hangar/lib/runner"
)

// ValidateCommand returns the "validate" command.
func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Summary: "Check a pipeline file without running it",
		Description: `Validate a pipeline definition. Reports every schema violation at
once, then resolves the dependency graph and the platform of every
command step. Nothing is executed and no sandbox is touched.

YAML (.yml, .yaml) and JSON (.json, .jsonc) files are accepted. JSON
files may carry comments and trailing commas.`,
		Usage: "hangar validate <file>",
		Examples: []cli.Example{
			{
				Description: "Validate the repository pipeline",
				Command:     "hangar validate .hangar/pipeline.yml",
			},
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: hangar validate <file>")
			}
			return validateFile(os.Stdout, os.Stderr, args[0])
		},
	}
}

// validateFile writes the verdict on path to stdout and each schema
// issue to stderr.
func validateFile(stdout, stderr io.Writer, path string) error {
	definition, err := pipelinedef.ReadFile(path)
	if err != nil {
		var schemaErr *pipelinedef.SchemaError
		if errors.As(err, &schemaErr) {
			for _, issue := range schemaErr.Issues {
				fmt.Fprintf(stderr, "  - %s\n", issue)
			}
			return fmt.Errorf("%s: %d validation issue(s) found", path, len(schemaErr.Issues))
		}
		return fmt.Errorf("%s: %w", path, err)
	}

	plan, err := runner.NewPlan(definition, runner.Build{})
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintf(stdout, "%s: valid (%d jobs)\n", path, len(plan.Jobs))
	return nil
}
