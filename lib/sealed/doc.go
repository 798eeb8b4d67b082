// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed reads and writes age-encrypted secrets bundles for
// the local builder backend.
//
// A bundle is an ASCII-armored age file whose plaintext is a flat YAML
// mapping of secret key to value. It is encrypted to one or more x25519
// recipients so it can be committed next to a pipeline and opened by
// any developer or machine holding one of the identities.
//
// Key exports:
//
//   - [GenerateKeypair] -- new age x25519 keypair in a secret.Buffer
//   - [Encrypt] / [Decrypt] -- armored age encryption to recipients
//   - [SealBundle] / [OpenBundle] -- YAML key/value bundles
//   - [ReadIdentity] -- load an identity file into a secret.Buffer
//
// Private keys and decrypted values live in [secret.Buffer] values.
package sealed
