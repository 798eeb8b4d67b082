// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for hangar.
//
// Configuration comes from a single file named by the HANGAR_CONFIG
// environment variable (via [Load]) or the --config flag (via
// [LoadFile]). There is no ~/.config discovery and no file search.
// [Resolve] implements the CLI precedence: flag, then HANGAR_CONFIG,
// then built-in defaults.
//
// The file may carry environment sections (development, ci) that are
// decoded over the base settings when [Config].Environment matches.
// Only keys present in the section change.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${HANGAR_STATE}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- Paths, Sandbox, Builder and Runner settings
//   - [Default] -- development defaults
//   - [Load], [LoadFile], [Resolve] -- entry points
//
// This package depends on no other hangar packages.
package config
