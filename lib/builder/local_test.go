// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/hangar-build/hangar/lib/artifact"
	"github.com/hangar-build/hangar/lib/sealed"
	"github.com/hangar-build/hangar/lib/secret"
	"github.com/hangar-build/hangar/lib/testutil"
)

func newTestLocal(t *testing.T, bundle *sealed.Bundle) *Local {
	t.Helper()
	root := t.TempDir()
	store, err := artifact.NewStore(filepath.Join(root, "artifacts"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	local, err := NewLocal(LocalConfig{
		Store:        store,
		RunID:        "run-1",
		MetadataPath: filepath.Join(root, "state", "runs", "run-1", "metadata.cbor"),
		Bundle:       bundle,
		SessionOptions: SessionOptions{
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	})
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	t.Cleanup(func() { local.Close() })
	return local
}

func newTestBundle(t *testing.T, values map[string]string) *sealed.Bundle {
	t.Helper()
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })
	ciphertext, err := sealed.SealBundle(values, []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("SealBundle: %v", err)
	}
	bundle, err := sealed.DecryptBundle(ciphertext, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("DecryptBundle: %v", err)
	}
	return bundle
}

func TestLocalArtifacts(t *testing.T) {
	t.Parallel()

	local := newTestLocal(t, nil)
	ctx := context.Background()

	workspace := t.TempDir()
	testutil.WriteTree(t, workspace, map[string]string{
		"dist/app.tar": "tarball",
		"dist/app.sig": "signature",
		"src/main.go":  "package main",
	})
	if err := local.UploadArtifact(ctx, "build", workspace, "dist/*.tar"); err != nil {
		t.Fatalf("UploadArtifact: %v", err)
	}
	if err := local.UploadArtifact(ctx, "build", workspace, "nothing/**"); err != nil {
		t.Fatalf("UploadArtifact without matches: %v", err)
	}

	destination := t.TempDir()
	if err := local.DownloadArtifact(ctx, "dist/**", destination); err != nil {
		t.Fatalf("DownloadArtifact: %v", err)
	}
	got := testutil.ReadTree(t, destination)
	if len(got) != 1 || got["dist/app.tar"] != "tarball" {
		t.Errorf("downloaded = %v", got)
	}

	err := local.DownloadArtifact(ctx, "src/*", t.TempDir())
	if !errors.Is(err, artifact.ErrNoMatch) {
		t.Errorf("DownloadArtifact unmatched error = %v, want ErrNoMatch", err)
	}
}

func TestLocalMetadata(t *testing.T) {
	t.Parallel()

	local := newTestLocal(t, nil)
	ctx := context.Background()

	if _, err := local.GetMetadata(ctx, "release-version"); !errors.Is(err, ErrMetadataNotFound) {
		t.Errorf("GetMetadata before set = %v, want ErrMetadataNotFound", err)
	}
	if err := local.SetMetadata(ctx, "release-version", "1.4.0"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := local.SetMetadata(ctx, "channel", "beta"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	value, err := local.GetMetadata(ctx, "release-version")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if value != "1.4.0" {
		t.Errorf("release-version = %q", value)
	}
	if err := local.SetMetadata(ctx, "", "x"); err == nil {
		t.Error("expected an error for an empty key")
	}
}

func TestLocalSecrets(t *testing.T) {
	t.Parallel()

	local := newTestLocal(t, newTestBundle(t, map[string]string{
		"NPM_TOKEN": "npm_abcdef123456",
	}))
	ctx := context.Background()

	value, err := local.GetSecret(ctx, "NPM_TOKEN")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if value != "npm_abcdef123456" {
		t.Errorf("NPM_TOKEN = %q", value)
	}
	if got := local.Redactor().Redact("token=npm_abcdef123456"); got != "token=[REDACTED]" {
		t.Errorf("fetched secret not redacted: %q", got)
	}

	_, err = local.GetSecret(ctx, "MISSING")
	if !errors.Is(err, ErrSecretNotFound) || !errors.Is(err, secret.ErrNotFound) {
		t.Errorf("GetSecret missing = %v, want ErrSecretNotFound", err)
	}
}

func TestLocalWithoutBundle(t *testing.T) {
	t.Parallel()

	local := newTestLocal(t, nil)
	if _, err := local.GetSecret(context.Background(), "ANY"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("GetSecret = %v, want ErrSecretNotFound", err)
	}
}

func TestLocalClosedSession(t *testing.T) {
	t.Parallel()

	local := newTestLocal(t, newTestBundle(t, map[string]string{"KEY": "value-1234"}))
	if err := local.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := local.GetSecret(context.Background(), "KEY"); !errors.Is(err, secret.ErrSessionClosed) {
		t.Errorf("GetSecret after Close = %v, want ErrSessionClosed", err)
	}
}
