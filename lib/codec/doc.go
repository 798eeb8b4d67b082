// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Hangar's CBOR encoding for internal state
// files.
//
// Hangar uses JSON wherever a human or another tool reads the data:
// pipeline documents, the JSONL result log, and CLI --json output.
// CBOR is used for files only Hangar reads back: the active sandbox
// scope record in the state directory and the local builder's
// metadata store.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same value always produces the same bytes. Types that are only ever
// CBOR use `cbor` struct tags; types shared with JSON use `json` tags,
// which fxamacker/cbor reads as a fallback.
package codec
