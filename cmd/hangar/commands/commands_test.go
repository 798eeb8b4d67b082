// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"slices"
	"strings"
	"testing"

	"github.com/hangar-build/hangar/cmd/hangar/cli"
)

func TestRootSubcommands(t *testing.T) {
	t.Parallel()
	var names []string
	for _, command := range Root().Subcommands {
		if command.Summary == "" {
			t.Errorf("%s has no summary", command.Name)
		}
		names = append(names, command.Name)
	}
	if want := []string{"run", "validate", "plan", "doctor", "version"}; !slices.Equal(names, want) {
		t.Errorf("subcommands = %v, want %v", names, want)
	}
}

// TestCommandTreeFlags builds every command's flag set, which panics
// on a malformed parameter struct, and renders its help.
func TestCommandTreeFlags(t *testing.T) {
	t.Parallel()
	walkCommands(Root(), func(command *cli.Command) {
		if command.Flags != nil {
			command.Flags()
		}
		var help strings.Builder
		command.PrintHelp(&help)
		if !strings.Contains(help.String(), "Usage:") {
			t.Errorf("%s: help has no usage line", command.Name)
		}
	})
}

func walkCommands(command *cli.Command, visit func(*cli.Command)) {
	visit(command)
	for _, sub := range command.Subcommands {
		walkCommands(sub, visit)
	}
}
