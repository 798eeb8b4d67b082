// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipelinedef reads and writes hangar pipeline definitions.
//
// Pipelines are authored as YAML (.yml, .yaml) or as JSON with
// comments and trailing commas (.json, .jsonc). Both decode into a
// generic document that keeps mapping key order, and the document is
// decoded into the typed [pipeline.Pipeline] step union. Decoding is
// validation: every structural problem in the document is collected
// into one [SchemaError] rather than stopping at the first.
//
// The typical flow:
//
//  1. ReadFile or Parse: bytes → *pipeline.Pipeline (or *SchemaError)
//  2. pipeline.NewGraph: steps → job graph (dependency errors)
//  3. Marshal: *pipeline.Pipeline → canonical YAML or JSON
//
// Dependency references are resolved by the graph, not here: a
// depends_on naming a missing key parses, and fails in NewGraph.
package pipelinedef
