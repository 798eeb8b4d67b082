// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline resolves a decoded pipeline into an executable job
// graph.
//
// Resolution runs in three stages:
//
//  1. [Flatten] removes groups. Children inherit the group's
//     depends_on, if and branches, and stay attached to the group's
//     key for dependency purposes.
//  2. [ExpandMatrix] and [ExpandParallelism] turn one command step
//     into its concrete jobs, substituting {{matrix.*}} tokens.
//  3. [NewGraph] adds explicit depends_on edges and the implicit
//     barrier edges of wait, block and input steps, then rejects
//     missing references and cycles with a [DependencyError].
//
// [Graph.Ready] computes which pending jobs may start, be skipped, or
// inherit a blocked state, given the current [State] of every job.
// The graph yields a partial order only; running ready jobs one at a
// time or concurrently is the caller's choice.
//
// [ResolveAgents] and [ResolvePlatform] map a step's agent query onto
// a concrete [Platform]. An os value hangar cannot serve fails with
// [UnsupportedPlatformError] rather than being skipped.
//
// [EvaluateCondition] and [MatchBranches] implement the if and
// branches filters.
package pipeline
