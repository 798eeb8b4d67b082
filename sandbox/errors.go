// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"

	"github.com/hangar-build/hangar/lib/pipeline"
)

// ErrScopeBusy is returned by Enter while another scope is active.
var ErrScopeBusy = errors.New("a sandbox scope is already active")

// ProvisionError reports a sandbox that could not be created, booted
// or prepared.
type ProvisionError struct {
	Platform pipeline.Platform

	// Op is the failing operation, for example "clone" or "boot".
	Op  string
	Err error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning %s sandbox: %s: %v", e.Platform, e.Op, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// Direction is the way a workspace transfer goes.
type Direction string

const (
	CopyIn  Direction = "in"
	CopyOut Direction = "out"
)

// TransferError reports a failed workspace copy.
type TransferError struct {
	Direction Direction

	// Sandbox identifies the container or VM.
	Sandbox string

	Path string
	Err  error
}

func (e *TransferError) Error() string {
	if e.Direction == CopyIn {
		return fmt.Sprintf("copying %s into sandbox %s: %v", e.Path, e.Sandbox, e.Err)
	}
	return fmt.Sprintf("copying sandbox %s workspace out to %s: %v", e.Sandbox, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
