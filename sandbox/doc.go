// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox moves a job into the environment its platform asks
// for and runs the hangar runner again inside it.
//
// A [Manager] owns at most one sandbox scope at a time and walks it
// through Outside, Entering, Inside and Exiting. [Manager.Enter]
// provisions a sandbox through the [Backend] registered for the
// platform's kind and copies the workspace in; [Environment.Run]
// executes the nested runner there; [Manager.Exit] copies the
// workspace back and releases the sandbox. [Manager.Execute] does all
// three with best-effort teardown on failure or cancellation, and
// [Manager.Within] does the same around a caller-supplied body.
//
// Two backends ship: [ContainerBackend] drives the docker or podman
// CLI, and [VMBackend] drives a [VMDriver], booting a clone of a base
// image and giving each scope its own ephemeral workspace disk. The
// shipped [CLIDriver] shells out to a driver executable.
//
// Re-entrancy is decided once, at the process boundary:
// [DetectContext] probes marker files and the result is passed to the
// Manager as [ManagerConfig].Context. A Manager already inside the
// requested kind of sandbox runs commands in place.
//
// Provisioned scopes are recorded in the state directory until they
// are released, so [ListScopes] can find sandboxes leaked by a
// crashed run.
package sandbox
