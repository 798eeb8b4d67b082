// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package doctor provides the check and fix workflow behind
// "hangar doctor".
//
// Each check produces a [Result]. Fixable failures carry a fix
// closure that [ExecuteFixes] runs in --fix mode. [PrintChecklist]
// renders results for people and [BuildJSON] for machines. What to
// check lives in the command package.
package doctor
