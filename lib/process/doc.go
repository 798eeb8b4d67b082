// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package process is Hangar's single point of external command
// execution. Every step command, whether it runs on the host or inside
// a sandbox, and every container runtime, VM driver, and CI agent call
// goes through [Run].
//
// [Run] executes one argv with an optional working directory,
// environment overlay, and stdin payload. Output is handled in one of
// three modes: inherited from the runner, piped to per-chunk
// callbacks, or discarded. In piped mode both streams are drained by
// background read loops that finish before the exit status is
// reported, so trailing output is never lost. A non-zero exit becomes
// an [*Error] unless the caller sets IgnoreReturnCode.
//
// Commands run in their own process group. Cancelling the context
// kills the whole group, optionally after a SIGTERM grace period.
//
// [Fatal] is the binary entrypoint error handler for cases where the
// structured logger is not available.
package process
