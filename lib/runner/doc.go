// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner executes a validated pipeline on one host.
//
// [NewPlan] builds the job graph and resolves, before anything runs,
// every job's platform and whether its branch filter or if condition
// skips it. Validation, dependency, platform and condition errors all
// surface here, so a pipeline that cannot run fails without side
// effects.
//
// [Runner.Run] walks the graph one job at a time. Command jobs run
// through the sandbox manager: in place when the job's platform is the
// host or the sandbox the process already runs in, otherwise as a
// nested "hangar run --step ID" inside a freshly provisioned container
// or VM. The host side owns retries, soft failure, timeouts,
// concurrency group locks, secrets and artifact upload; the nested
// side runs a single attempt and exits with the step's raw status
// ([Runner.RunStep]).
//
// Block and input steps pass only when named in [Config].Unblock;
// otherwise they and everything behind them end blocked. Trigger steps
// run the referenced pipeline with a child Runner; async triggers run
// after the triggering pipeline finishes. Plugins are reported but not
// executed, and notifications are recorded in the result log, not
// delivered.
//
// Progress is written as JSON lines to an optional [ResultLog].
package runner
