// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds secret values for the duration of one pipeline
// run.
//
// [Buffer] stores bytes outside the Go heap in an anonymous mmap
// region that is locked against swap where the memlock limit allows,
// excluded from core dumps, and zeroed on Close.
//
// [Session] is the per-run secrets cache. It is created once by the
// runner and passed by reference to everything that needs a secret.
// Values are fetched lazily through a [Fetcher] (normally the active
// builder backend), cached in Buffers, and refreshed by a supervised
// renewal loop started with [Session.Supervise]. A renewal failure is
// never dropped: it stops the loop and is reported by [Session.Err]
// and [Session.Close].
package secret
