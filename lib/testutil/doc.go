// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Hangar packages.
//
// [RequireReceive] wraps the select-with-timeout pattern so tests
// never hang on a channel. [WriteTree] materializes a small directory
// tree from a map of relative paths to contents, and [ReadTree] reads
// one back for comparison; sandbox and artifact tests use them to
// build and check workspaces.
//
// All helpers call t.Fatalf on failure.
package testutil
