// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Hangar runs CI pipelines on a single host.
//
// Usage:
//
//	hangar run <pipeline> [flags]
//	hangar validate <file>
//	hangar plan <file> [--json]
//	hangar doctor [--fix]
//	hangar version
package main
