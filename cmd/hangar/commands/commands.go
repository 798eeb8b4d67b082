// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the hangar command tree.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hangar-build/hangar/cmd/hangar/cli"
	doctorcmd "github.com/hangar-build/hangar/cmd/hangar/doctor"
	pipelinecmd "github.com/hangar-build/hangar/cmd/hangar/pipeline"
	"github.com/hangar-build/hangar/lib/version"
)

// Root builds and returns the complete hangar command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "hangar",
		Description: `Hangar: a single-host CI step runner.

Parse pipeline definitions, resolve the order and platform of every
step, and run each step on the host or inside a container or VM
sandbox provisioned for it.`,
		Subcommands: []*cli.Command{
			pipelinecmd.RunCommand(),
			pipelinecmd.ValidateCommand(),
			pipelinecmd.PlanCommand(),
			doctorcmd.Command(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					fmt.Printf("hangar %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Check what this host can run (start here)",
				Command:     "hangar doctor",
			},
			{
				Description: "Show how a pipeline resolves",
				Command:     "hangar plan .hangar/pipeline.yml",
			},
			{
				Description: "Run it",
				Command:     "hangar run .hangar/pipeline.yml",
			},
		},
	}
}
