// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/hangar-build/hangar/lib/secret"
)

// Bundle is a decrypted secrets bundle. Values are held in
// secret.Buffers until Close.
type Bundle struct {
	values map[string]*secret.Buffer
}

// SealBundle encodes values as YAML and encrypts them to the given
// recipients.
func SealBundle(values map[string]string, recipientKeys []string) ([]byte, error) {
	plaintext, err := yaml.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encoding bundle: %w", err)
	}
	defer secret.Zero(plaintext)
	return Encrypt(plaintext, recipientKeys)
}

// OpenBundle reads and decrypts the bundle at path.
func OpenBundle(path string, privateKey *secret.Buffer) (*Bundle, error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets bundle: %w", err)
	}
	return DecryptBundle(ciphertext, privateKey)
}

// DecryptBundle decrypts and decodes bundle ciphertext.
func DecryptBundle(ciphertext []byte, privateKey *secret.Buffer) (*Bundle, error) {
	plaintext, err := Decrypt(ciphertext, privateKey)
	if err != nil {
		return nil, err
	}
	bundle := &Bundle{values: make(map[string]*secret.Buffer)}
	if plaintext == nil {
		return bundle, nil
	}
	defer plaintext.Close()

	var decoded map[string]string
	if err := yaml.Unmarshal(plaintext.Bytes(), &decoded); err != nil {
		return nil, fmt.Errorf("secrets bundle is not a YAML string mapping: %w", err)
	}
	for key, value := range decoded {
		if value == "" {
			bundle.values[key] = nil
			continue
		}
		buffer, err := secret.NewFromBytes([]byte(value))
		if err != nil {
			bundle.Close()
			return nil, fmt.Errorf("protecting secret %q: %w", key, err)
		}
		bundle.values[key] = buffer
	}
	return bundle, nil
}

// Get returns the value for key, or an error wrapping
// secret.ErrNotFound.
func (b *Bundle) Get(key string) (string, error) {
	buffer, ok := b.values[key]
	if !ok {
		return "", fmt.Errorf("%q: %w", key, secret.ErrNotFound)
	}
	if buffer == nil {
		return "", nil
	}
	return buffer.String(), nil
}

// Keys returns the bundle keys in sorted order.
func (b *Bundle) Keys() []string {
	keys := make([]string, 0, len(b.values))
	for key := range b.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Close zeros every value. Idempotent.
func (b *Bundle) Close() error {
	var firstError error
	for key, buffer := range b.values {
		if buffer != nil {
			if err := buffer.Close(); err != nil && firstError == nil {
				firstError = err
			}
		}
		delete(b.values, key)
	}
	return firstError
}
