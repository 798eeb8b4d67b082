// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package doctor implements "hangar doctor": checks that the
// configuration loads, which sandbox backends this host can use, and
// whether crashed runs left sandboxes behind.
package doctor
