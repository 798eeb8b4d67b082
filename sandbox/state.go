// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hangar-build/hangar/lib/codec"
	"github.com/hangar-build/hangar/lib/pipeline"
)

// ScopeRecord describes a provisioned sandbox. One is written per
// active scope so that sandboxes leaked by a crashed runner can be
// found and released.
type ScopeRecord struct {
	Token     string               `cbor:"token"`
	Kind      pipeline.SandboxKind `cbor:"kind"`
	Family    string               `cbor:"family"`
	Arch      string               `cbor:"arch,omitempty"`
	Image     string               `cbor:"image,omitempty"`
	Instance  string               `cbor:"instance"`
	Workspace string               `cbor:"workspace"`
	PID       int                  `cbor:"pid"`
	Started   time.Time            `cbor:"started"`
}

// Stale reports whether the process that created the scope has
// exited.
func (r ScopeRecord) Stale() bool {
	if r.PID <= 0 {
		return true
	}
	_, err := os.Stat(filepath.Join("/proc", fmt.Sprint(r.PID)))
	return errors.Is(err, fs.ErrNotExist)
}

// ListScopes returns the scope records under stateDir ordered by
// start time. A missing directory yields no records.
func ListScopes(stateDir string) ([]ScopeRecord, error) {
	entries, err := os.ReadDir(scopeDir(stateDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing sandbox scopes: %w", err)
	}

	var records []ScopeRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".cbor") {
			continue
		}
		var record ScopeRecord
		if err := codec.ReadFile(filepath.Join(scopeDir(stateDir), entry.Name()), &record); err != nil {
			return nil, fmt.Errorf("reading sandbox scope %s: %w", entry.Name(), err)
		}
		records = append(records, record)
	}
	slices.SortFunc(records, func(a, b ScopeRecord) int {
		return a.Started.Compare(b.Started)
	})
	return records, nil
}

func (m *Manager) recordScope(environment *Environment) error {
	if m.config.StateDir == "" {
		return nil
	}
	if err := os.MkdirAll(scopeDir(m.config.StateDir), 0o755); err != nil {
		return err
	}
	record := ScopeRecord{
		Token:     environment.token,
		Kind:      environment.platform.Kind,
		Family:    environment.platform.Family,
		Arch:      environment.platform.Arch,
		Image:     environment.platform.Image,
		Instance:  environment.instance.Name(),
		Workspace: environment.workspace,
		PID:       os.Getpid(),
		Started:   environment.started.UTC(),
	}
	return codec.WriteFile(scopePath(m.config.StateDir, environment.token), record)
}

func (m *Manager) removeScope(token string) error {
	if m.config.StateDir == "" {
		return nil
	}
	return ForgetScope(m.config.StateDir, token)
}

// ForgetScope deletes a scope record. The sandbox itself is left
// alone; callers release it first. A missing record is not an error.
func ForgetScope(stateDir, token string) error {
	err := os.Remove(scopePath(stateDir, token))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func scopePath(stateDir, token string) string {
	return filepath.Join(scopeDir(stateDir), token+".cbor")
}
