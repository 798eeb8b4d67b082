// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for the hangar binary: a tree
// of [Command] values dispatched by name, pflag-based flags bound from
// tagged parameter structs, typo suggestions for unknown commands and
// flags, --json output, and [ExitError] for commands that report their
// own failures.
package cli
