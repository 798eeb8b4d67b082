// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package builder is the narrow interface between the step runner and
// the CI backend it reports to.
//
// A [Builder] uploads and downloads artifacts, reads secrets, records
// build metadata and registers values for redaction. Two backends
// implement it. [Local] keeps artifacts in a content-addressed store
// (lib/artifact), metadata in a CBOR file, and reads secrets from an
// age-encrypted bundle (lib/sealed). [Agent] shells out to the
// buildkite-agent CLI.
//
// Every secret a backend returns passes through a per-run
// secret.Session, whose fetch hook registers the value with the
// backend's [Redactor] before the caller sees it.
package builder
