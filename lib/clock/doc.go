// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source for the parts of
// Hangar that wait: VM readiness polling in the sandbox package and
// secret renewal in lib/secret.
//
// Production code takes a [Clock] and passes [Real]. Tests pass
// [Fake] and drive time with [FakeClock.Advance]. Use
// [FakeClock.WaitForTimers] before advancing so the goroutine under
// test has registered its ticker or sleep:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go manager.Enter(ctx, platform, workspace)
//	fake.WaitForTimers(1)
//	fake.Advance(250 * time.Millisecond)
package clock
