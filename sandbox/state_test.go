// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hangar-build/hangar/lib/codec"
	"github.com/hangar-build/hangar/lib/pipeline"
)

func writeScope(t *testing.T, stateDir string, record ScopeRecord) {
	t.Helper()
	if err := os.MkdirAll(scopeDir(stateDir), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := codec.WriteFile(scopePath(stateDir, record.Token), record); err != nil {
		t.Fatalf("writing scope: %v", err)
	}
}

func TestListScopesOrdersByStart(t *testing.T) {
	t.Parallel()
	stateDir := t.TempDir()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writeScope(t, stateDir, ScopeRecord{Token: "later", Kind: pipeline.SandboxVM, Instance: "vm-b", Started: start.Add(time.Minute)})
	writeScope(t, stateDir, ScopeRecord{Token: "earlier", Kind: pipeline.SandboxContainer, Instance: "ct-a", Started: start})
	if err := os.WriteFile(filepath.Join(scopeDir(stateDir), "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	records, err := ListScopes(stateDir)
	if err != nil {
		t.Fatalf("ListScopes: %v", err)
	}
	if len(records) != 2 || records[0].Token != "earlier" || records[1].Token != "later" {
		t.Fatalf("records = %+v", records)
	}
	if records[0].Kind != pipeline.SandboxContainer || records[0].Instance != "ct-a" {
		t.Errorf("first record = %+v", records[0])
	}
}

func TestListScopesMissingDirectory(t *testing.T) {
	t.Parallel()
	records, err := ListScopes(filepath.Join(t.TempDir(), "absent"))
	if err != nil || records != nil {
		t.Errorf("ListScopes = %v, %v; want nothing", records, err)
	}
}

func TestForgetScope(t *testing.T) {
	t.Parallel()
	stateDir := t.TempDir()
	writeScope(t, stateDir, ScopeRecord{Token: "gone", Started: time.Now()})

	if err := ForgetScope(stateDir, "gone"); err != nil {
		t.Fatalf("ForgetScope: %v", err)
	}
	if err := ForgetScope(stateDir, "gone"); err != nil {
		t.Errorf("second ForgetScope: %v", err)
	}
	records, err := ListScopes(stateDir)
	if err != nil || len(records) != 0 {
		t.Errorf("ListScopes = %v, %v; want none", records, err)
	}
}

func TestScopeRecordStale(t *testing.T) {
	t.Parallel()
	if (ScopeRecord{PID: os.Getpid()}).Stale() {
		t.Error("record of the running process is stale")
	}
	if !(ScopeRecord{}).Stale() {
		t.Error("record without a PID is not stale")
	}
}
