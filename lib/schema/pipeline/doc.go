// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline defines the typed pipeline model: a [Pipeline] of
// [Step] values, each an explicit tagged union over six variants
// (command, block, input, wait, trigger, group).
//
// Step values are constructed by the lib/pipelinedef decoder, which
// guarantees exactly one variant is set. [Dispatch] routes a Step to
// the handler for its variant; callers fill in only the handlers they
// need and get an [UnhandledStepTypeError] for the rest.
//
// All scalar values from the document (env values, agent query
// values, matrix values) are held as strings.
package pipeline
