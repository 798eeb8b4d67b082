// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline implements the pipeline commands of the hangar
// CLI: run, validate and plan.
//
// "hangar run" is also the nested entry point. A sandboxed step is
// executed by invoking the same binary inside the sandbox with
// --step, which runs that one step in place and exits with its raw
// exit status.
package pipeline
