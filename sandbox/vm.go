// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/hangar-build/hangar/lib/clock"
	"github.com/hangar-build/hangar/lib/pipeline"
	"github.com/hangar-build/hangar/lib/process"
)

// VMStatus is the power state a driver reports.
type VMStatus string

const (
	VMStopped  VMStatus = "stopped"
	VMStarting VMStatus = "starting"
	VMRunning  VMStatus = "running"
	VMFailed   VMStatus = "failed"
)

// VMDriver controls a hypervisor. Guest paths are slash separated.
type VMDriver interface {
	Clone(ctx context.Context, baseImage, name string) error
	Start(ctx context.Context, name string) error
	Status(ctx context.Context, name string) (VMStatus, error)
	Stop(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error

	CreateDisk(ctx context.Context, disk string, sizeGB int) error
	AttachDisk(ctx context.Context, name, disk string) error
	DetachDisk(ctx context.Context, name, disk string) error
	DeleteDisk(ctx context.Context, disk string) error

	// CopyTo copies a host file or directory tree to guestPath.
	CopyTo(ctx context.Context, name, hostPath, guestPath string) error
	// CopyFrom copies a guest file or directory tree to hostPath.
	CopyFrom(ctx context.Context, name, guestPath, hostPath string) error

	// Exec runs argv in the guest with the working directory set to
	// dir. options.Env is delivered to the guest command.
	Exec(ctx context.Context, name, dir string, argv []string, options process.Options) (int, error)
}

// VMConfig configures a VMBackend.
type VMConfig struct {
	Driver VMDriver

	// BaseImages maps a platform family to the image cloned for it.
	// A platform image overrides it.
	BaseImages map[string]string

	// MountPath is where the workspace disk is mounted in the guest.
	MountPath  string
	DiskSizeGB int

	PollInterval time.Duration
	BootTimeout  time.Duration

	// RunnerBinary is copied to RunnerPath in the guest.
	RunnerPath   string
	RunnerBinary string

	Clock  clock.Clock
	Logger *slog.Logger
}

// VMBackend provisions throwaway VMs cloned from base images, each
// with its own workspace disk.
type VMBackend struct {
	config VMConfig
}

// NewVMBackend creates a VMBackend.
func NewVMBackend(config VMConfig) *VMBackend {
	if config.PollInterval <= 0 {
		config.PollInterval = 250 * time.Millisecond
	}
	if config.BootTimeout <= 0 {
		config.BootTimeout = 10 * time.Minute
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &VMBackend{config: config}
}

// Provision clones the base image, attaches a fresh workspace disk,
// boots the VM and installs the runner and the in-guest marker. On
// failure everything created so far is removed.
func (b *VMBackend) Provision(ctx context.Context, platform pipeline.Platform, token string) (Instance, error) {
	baseImage := platform.Image
	if baseImage == "" {
		baseImage = b.config.BaseImages[platform.Family]
	}
	if baseImage == "" {
		return nil, &ProvisionError{Platform: platform, Op: "select image", Err: fmt.Errorf("no base image configured for %s", platform.Family)}
	}

	instance := &vm{
		backend: b,
		name:    "hangar-" + token,
		disk:    "hangar-" + token + "-workspace",
	}
	fail := func(op string, err error) (Instance, error) {
		if cleanupErr := instance.cleanup(context.WithoutCancel(ctx)); cleanupErr != nil {
			b.config.Logger.Warn("cleaning up failed VM", "vm", instance.name, "error", cleanupErr)
		}
		return nil, &ProvisionError{Platform: platform, Op: op, Err: err}
	}

	driver := b.config.Driver
	if err := driver.Clone(ctx, baseImage, instance.name); err != nil {
		return nil, &ProvisionError{Platform: platform, Op: "clone", Err: err}
	}
	instance.cloned = true

	if err := driver.CreateDisk(ctx, instance.disk, b.config.DiskSizeGB); err != nil {
		return fail("create disk", err)
	}
	instance.diskCreated = true
	if err := driver.AttachDisk(ctx, instance.name, instance.disk); err != nil {
		return fail("attach disk", err)
	}
	instance.diskAttached = true

	if err := driver.Start(ctx, instance.name); err != nil {
		return fail("start", err)
	}
	instance.started = true
	if err := b.waitRunning(ctx, instance.name); err != nil {
		return fail("boot", err)
	}
	b.config.Logger.Debug("VM running", "vm", instance.name, "image", baseImage)

	if err := b.installMarker(ctx, instance.name, token); err != nil {
		return fail("install marker", err)
	}
	if b.config.RunnerBinary != "" {
		if err := driver.CopyTo(ctx, instance.name, b.config.RunnerBinary, b.config.RunnerPath); err != nil {
			return fail("install runner", err)
		}
	}
	return instance, nil
}

// waitRunning polls Status at PollInterval until the VM runs, fails,
// or BootTimeout passes.
func (b *VMBackend) waitRunning(ctx context.Context, name string) error {
	deadline := b.config.Clock.After(b.config.BootTimeout)
	ticker := b.config.Clock.NewTicker(b.config.PollInterval)
	defer ticker.Stop()

	for {
		status, err := b.config.Driver.Status(ctx, name)
		if err != nil {
			return err
		}
		switch status {
		case VMRunning:
			return nil
		case VMFailed:
			return errors.New("VM reported failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("VM not running after %s (last status %q)", b.config.BootTimeout, status)
		case <-ticker.C:
		}
	}
}

func (b *VMBackend) installMarker(ctx context.Context, name, token string) error {
	marker, err := os.CreateTemp("", "hangar-vm-marker-")
	if err != nil {
		return err
	}
	defer os.Remove(marker.Name())
	if _, err := marker.WriteString(token + "\n"); err != nil {
		marker.Close()
		return err
	}
	if err := marker.Close(); err != nil {
		return err
	}
	return b.config.Driver.CopyTo(ctx, name, marker.Name(), path.Join(b.config.MountPath, VMMarkerName))
}

type vm struct {
	backend *VMBackend
	name    string
	disk    string

	cloned       bool
	diskCreated  bool
	diskAttached bool
	started      bool
}

func (v *vm) Name() string       { return v.name }
func (v *vm) Workdir() string    { return path.Join(v.backend.config.MountPath, "workspace") }
func (v *vm) RunnerPath() string { return v.backend.config.RunnerPath }

func (v *vm) CopyIn(ctx context.Context, hostDir string) error {
	if err := v.backend.config.Driver.CopyTo(ctx, v.name, hostDir, v.Workdir()); err != nil {
		return &TransferError{Direction: CopyIn, Sandbox: v.name, Path: hostDir, Err: err}
	}
	return nil
}

func (v *vm) Run(ctx context.Context, argv []string, options process.Options) (int, error) {
	options.Dir = ""
	return v.backend.config.Driver.Exec(ctx, v.name, v.Workdir(), argv, options)
}

func (v *vm) CopyOut(ctx context.Context, hostDir string) error {
	if err := v.backend.config.Driver.CopyFrom(ctx, v.name, v.Workdir(), hostDir); err != nil {
		return &TransferError{Direction: CopyOut, Sandbox: v.name, Path: hostDir, Err: err}
	}
	return nil
}

func (v *vm) Release(ctx context.Context) error {
	return v.cleanup(ctx)
}

// cleanup undoes whatever Provision got through, continuing past
// individual failures.
func (v *vm) cleanup(ctx context.Context) error {
	driver := v.backend.config.Driver
	var errs []error
	if v.started {
		if err := driver.Stop(ctx, v.name); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", v.name, err))
		}
		v.started = false
	}
	if v.diskAttached {
		if err := driver.DetachDisk(ctx, v.name, v.disk); err != nil {
			errs = append(errs, fmt.Errorf("detaching %s: %w", v.disk, err))
		}
		v.diskAttached = false
	}
	if v.diskCreated {
		if err := driver.DeleteDisk(ctx, v.disk); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", v.disk, err))
		}
		v.diskCreated = false
	}
	if v.cloned {
		if err := driver.Delete(ctx, v.name); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", v.name, err))
		}
		v.cloned = false
	}
	return errors.Join(errs...)
}
