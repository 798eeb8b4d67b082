// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact implements the local content-addressed artifact
// store used by the local builder backend.
//
// Files uploaded by a step are hashed with keyed BLAKE3, compressed
// per object (zstd for text-like content, LZ4 for moderately
// compressible data, none otherwise), and written once under
// objects/. Each run has a manifest mapping workspace-relative paths
// to object hashes, encoded as CBOR with lib/codec. Later steps of the
// same run download by glob pattern against that manifest.
//
// Layout under the store root:
//
//	objects/<first two hex digits>/<hash>   object header + payload
//	manifests/<run id>.cbor                 path -> Entry
//	tmp/                                    staging for atomic writes
//
// Glob patterns use "/" separators; "*" and "?" match within one
// segment and "**" matches any number of segments. Multiple patterns
// may be joined with ";".
package artifact
