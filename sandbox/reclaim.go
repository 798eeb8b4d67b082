// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/hangar-build/hangar/lib/process"
)

// Reclaimer is implemented by backends that can release a sandbox
// from its scope record alone, after the runner that provisioned it
// died without tearing it down.
type Reclaimer interface {
	Reclaim(ctx context.Context, record ScopeRecord) error
}

// Reclaim removes the container named by record.
func (b *ContainerBackend) Reclaim(ctx context.Context, record ScopeRecord) error {
	argv := []string{b.config.Runtime, "rm", "--force", record.Instance}
	if _, err := b.config.Run(ctx, argv, process.Options{Output: process.OutputDiscard}); err != nil {
		return fmt.Errorf("removing container %s: %w", record.Instance, err)
	}
	return nil
}

// Reclaim stops and deletes the VM named by record along with its
// workspace disk. Stopping and detaching are best effort since the
// VM may never have booted; deletion failures are returned.
func (b *VMBackend) Reclaim(ctx context.Context, record ScopeRecord) error {
	driver := b.config.Driver
	disk := record.Instance + "-workspace"
	if err := driver.Stop(ctx, record.Instance); err != nil {
		b.config.Logger.Debug("stopping leaked VM", "vm", record.Instance, "error", err)
	}
	if err := driver.DetachDisk(ctx, record.Instance, disk); err != nil {
		b.config.Logger.Debug("detaching leaked disk", "disk", disk, "error", err)
	}
	var errs []error
	if err := driver.DeleteDisk(ctx, disk); err != nil {
		errs = append(errs, fmt.Errorf("deleting %s: %w", disk, err))
	}
	if err := driver.Delete(ctx, record.Instance); err != nil {
		errs = append(errs, fmt.Errorf("deleting %s: %w", record.Instance, err))
	}
	return errors.Join(errs...)
}

// Reclaim releases the sandbox of a leaked scope through the backend
// of its kind and forgets the record.
func (m *Manager) Reclaim(ctx context.Context, record ScopeRecord) error {
	backend, ok := m.config.Backends[record.Kind]
	if !ok {
		return fmt.Errorf("no backend for %s sandboxes", record.Kind)
	}
	reclaimer, ok := backend.(Reclaimer)
	if !ok {
		return fmt.Errorf("%s backend cannot reclaim sandboxes", record.Kind)
	}
	if err := reclaimer.Reclaim(ctx, record); err != nil {
		return err
	}
	m.logger.Info("reclaimed leaked sandbox", "token", record.Token, "instance", record.Instance)
	if m.config.StateDir == "" {
		return nil
	}
	return ForgetScope(m.config.StateDir, record.Token)
}
