// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"

	"github.com/hangar-build/hangar/lib/pipeline"
	"github.com/hangar-build/hangar/lib/process"
)

// Backend provisions sandboxes of one kind.
type Backend interface {
	// Provision creates and starts a sandbox for platform. token is
	// unique per scope and names the backing resources. On error
	// nothing is left behind.
	Provision(ctx context.Context, platform pipeline.Platform, token string) (Instance, error)
}

// Instance is one provisioned sandbox.
type Instance interface {
	// Name identifies the sandbox to its backend, for logs and
	// leaked-scope cleanup.
	Name() string

	// Workdir is the workspace path inside the sandbox.
	Workdir() string

	// RunnerPath is where the hangar runner is available inside the
	// sandbox.
	RunnerPath() string

	// CopyIn copies the contents of a host directory into Workdir.
	CopyIn(ctx context.Context, hostDir string) error

	// Run executes argv in Workdir. options.Env is delivered to the
	// command; options.Dir is ignored.
	Run(ctx context.Context, argv []string, options process.Options) (int, error)

	// CopyOut copies the contents of Workdir into a host directory.
	CopyOut(ctx context.Context, hostDir string) error

	// Release destroys the sandbox and everything it owns.
	Release(ctx context.Context) error
}

// CommandRunner runs a host command. process.Run satisfies it; tests
// substitute fakes.
type CommandRunner func(ctx context.Context, argv []string, options process.Options) (int, error)
