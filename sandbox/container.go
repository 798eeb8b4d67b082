// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/hangar-build/hangar/lib/pipeline"
	"github.com/hangar-build/hangar/lib/process"
)

// TokenLabel is the container label carrying the scope token.
const TokenLabel = "hangar.token"

// ContainerConfig configures a ContainerBackend.
type ContainerConfig struct {
	// Runtime is the container CLI, docker or podman.
	Runtime string

	// Image is used when the platform names none.
	Image string

	// Workdir is the workspace path inside the container.
	Workdir string

	// RunnerPath is where RunnerBinary is mounted read-only.
	RunnerPath   string
	RunnerBinary string

	// Run executes runtime commands. Defaults to process.Run.
	Run    CommandRunner
	Logger *slog.Logger
}

// ContainerBackend provisions linux containers through a docker
// compatible CLI.
type ContainerBackend struct {
	config ContainerConfig
}

// NewContainerBackend creates a ContainerBackend.
func NewContainerBackend(config ContainerConfig) *ContainerBackend {
	if config.Run == nil {
		config.Run = process.Run
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &ContainerBackend{config: config}
}

// Provision starts a detached container that idles until released.
func (b *ContainerBackend) Provision(ctx context.Context, platform pipeline.Platform, token string) (Instance, error) {
	image := platform.Image
	if image == "" {
		image = b.config.Image
	}
	if image == "" {
		return nil, &ProvisionError{Platform: platform, Op: "select image", Err: errors.New("no container image configured")}
	}

	name := "hangar-" + token
	argv := []string{
		b.config.Runtime, "run", "--detach",
		"--name", name,
		"--label", TokenLabel + "=" + token,
		"--workdir", b.config.Workdir,
	}
	if b.config.RunnerBinary != "" {
		argv = append(argv, "--volume", b.config.RunnerBinary+":"+b.config.RunnerPath+":ro")
	}
	if platform.Arch != "" {
		argv = append(argv, "--platform", "linux/"+platform.Arch)
	}
	argv = append(argv, image, "sleep", "infinity")

	instance := &container{backend: b, name: name}
	if _, err := b.config.Run(ctx, argv, process.Options{Output: process.OutputDiscard}); err != nil {
		// run may have created the container before failing or being
		// canceled.
		if releaseErr := instance.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			b.config.Logger.Debug("removing unstarted container", "name", name, "error", releaseErr)
		}
		return nil, &ProvisionError{Platform: platform, Op: "start container", Err: err}
	}
	b.config.Logger.Debug("container started", "name", name, "image", image)

	if _, err := instance.runtime(ctx, "exec", name, "mkdir", "-p", b.config.Workdir); err != nil {
		instance.Release(context.WithoutCancel(ctx))
		return nil, &ProvisionError{Platform: platform, Op: "create workdir", Err: err}
	}
	return instance, nil
}

type container struct {
	backend *ContainerBackend
	name    string
}

func (c *container) Name() string       { return c.name }
func (c *container) Workdir() string    { return c.backend.config.Workdir }
func (c *container) RunnerPath() string { return c.backend.config.RunnerPath }

func (c *container) runtime(ctx context.Context, args ...string) (int, error) {
	argv := append([]string{c.backend.config.Runtime}, args...)
	return c.backend.config.Run(ctx, argv, process.Options{Output: process.OutputDiscard})
}

func (c *container) CopyIn(ctx context.Context, hostDir string) error {
	if _, err := c.runtime(ctx, "cp", contentsOf(hostDir), c.name+":"+c.Workdir()); err != nil {
		return &TransferError{Direction: CopyIn, Sandbox: c.name, Path: hostDir, Err: err}
	}
	return nil
}

// Run passes environment variable names with --env and their values
// through the runtime CLI's own environment, so values never appear
// on a command line.
func (c *container) Run(ctx context.Context, argv []string, options process.Options) (int, error) {
	command := []string{c.backend.config.Runtime, "exec", "--workdir", c.Workdir()}
	if options.Stdin != nil {
		command = append(command, "--interactive")
	}
	for _, name := range slices.Sorted(maps.Keys(options.Env)) {
		command = append(command, "--env", name)
	}
	command = append(command, c.name)
	command = append(command, argv...)
	options.Dir = ""
	return c.backend.config.Run(ctx, command, options)
}

func (c *container) CopyOut(ctx context.Context, hostDir string) error {
	if _, err := c.runtime(ctx, "cp", c.name+":"+contentsOf(c.Workdir()), hostDir); err != nil {
		return &TransferError{Direction: CopyOut, Sandbox: c.name, Path: hostDir, Err: err}
	}
	return nil
}

func (c *container) Release(ctx context.Context) error {
	if _, err := c.runtime(ctx, "rm", "--force", c.name); err != nil {
		return fmt.Errorf("removing container %s: %w", c.name, err)
	}
	return nil
}

// contentsOf names a directory's contents for "cp", which copies the
// directory itself without the trailing "/.".
func contentsOf(dir string) string {
	return strings.TrimSuffix(dir, "/") + "/."
}
