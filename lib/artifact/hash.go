// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest of uncompressed object content.
type Hash [32]byte

// contentDomainKey keys the BLAKE3 hasher. Changing it invalidates
// every stored object.
var contentDomainKey = [32]byte{
	'h', 'a', 'n', 'g', 'a', 'r', '.', 'a', 'r', 't', 'i', 'f', 'a', 'c', 't', '.',
	'c', 'o', 'n', 't', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashContent returns the keyed hash of data.
func HashContent(data []byte) Hash {
	hasher, err := blake3.NewKeyed(contentDomainKey[:])
	if err != nil {
		panic("artifact: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result
}

// String returns the lowercase hex encoding.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 hex digits, for log output.
func (h Hash) Short() string {
	return h.String()[:12]
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash parses a 64-character hex string.
func ParseHash(text string) (Hash, error) {
	var hash Hash
	if len(text) != 64 {
		return hash, fmt.Errorf("artifact hash must be 64 hex characters, got %d", len(text))
	}
	if _, err := hex.Decode(hash[:], []byte(text)); err != nil {
		return hash, fmt.Errorf("invalid artifact hash %q: %w", text, err)
	}
	return hash, nil
}
