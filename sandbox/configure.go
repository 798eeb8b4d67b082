// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"log/slog"

	"github.com/hangar-build/hangar/lib/config"
	"github.com/hangar-build/hangar/lib/pipeline"
)

// NewManagerFromConfig builds a Manager with the container and VM
// backends cfg describes. runnerBinary is the hangar executable
// installed into sandboxes. The process context is detected here,
// once.
func NewManagerFromConfig(cfg *config.Config, runnerBinary string, logger *slog.Logger) (*Manager, error) {
	current := DetectContext(DefaultMarkers(cfg.Sandbox.VM.MountPath))
	logger.Debug("detected process context", "context", current.String())

	container := cfg.Sandbox.Container
	vm := cfg.Sandbox.VM
	return NewManager(ManagerConfig{
		Context: current,
		Backends: map[pipeline.SandboxKind]Backend{
			pipeline.SandboxContainer: NewContainerBackend(ContainerConfig{
				Runtime:      container.Runtime,
				Image:        container.Image,
				Workdir:      container.Workdir,
				RunnerPath:   container.RunnerPath,
				RunnerBinary: runnerBinary,
				Logger:       logger,
			}),
			pipeline.SandboxVM: NewVMBackend(VMConfig{
				Driver:       &CLIDriver{Executable: vm.Driver},
				BaseImages:   vm.BaseImages,
				MountPath:    vm.MountPath,
				DiskSizeGB:   vm.DiskSizeGB,
				PollInterval: cfg.PollInterval(),
				BootTimeout:  cfg.BootTimeout(),
				RunnerPath:   vm.RunnerPath,
				RunnerBinary: runnerBinary,
				Logger:       logger,
			}),
		},
		StateDir:   cfg.Paths.State,
		RunnerPath: runnerBinary,
		Logger:     logger,
	})
}
