// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hangar-build/hangar/lib/artifact"
	"github.com/hangar-build/hangar/lib/codec"
	"github.com/hangar-build/hangar/lib/sealed"
	"github.com/hangar-build/hangar/lib/secret"
)

// LocalConfig configures a Local builder.
type LocalConfig struct {
	// Store holds artifacts. Required.
	Store *artifact.Store

	// RunID scopes artifacts and metadata to one run.
	RunID string

	// MetadataPath is the CBOR file holding build metadata.
	MetadataPath string

	// Bundle supplies secrets. Nil means every secret is missing.
	// Local takes ownership and closes it.
	Bundle *sealed.Bundle

	SessionOptions
}

// Local is a Builder backed by the local filesystem.
type Local struct {
	base
	config LocalConfig

	metadataMu sync.Mutex
}

// NewLocal creates a Local builder.
func NewLocal(config LocalConfig) (*Local, error) {
	if config.Store == nil {
		return nil, errors.New("builder: local backend requires an artifact store")
	}
	if config.RunID == "" {
		return nil, errors.New("builder: local backend requires a run ID")
	}
	local := &Local{config: config}
	shared, err := newBase(local.fetchSecret, local.Redact, config.SessionOptions)
	if err != nil {
		return nil, err
	}
	local.base = shared
	return local, nil
}

func (l *Local) Name() string { return "local" }

func (l *Local) fetchSecret(ctx context.Context, key string) (string, error) {
	if l.config.Bundle == nil {
		return "", fmt.Errorf("%q: no secrets bundle configured: %w", key, secret.ErrNotFound)
	}
	return l.config.Bundle.Get(key)
}

func (l *Local) UploadArtifact(ctx context.Context, stepKey, workspace, pattern string) error {
	entries, err := l.config.Store.Upload(l.config.RunID, stepKey, workspace, []string{pattern})
	if err != nil {
		return err
	}
	for _, entry := range entries {
		l.logger.Info("artifact uploaded",
			"path", entry.Path,
			"hash", entry.Hash.Short(),
			"size", entry.Size,
			"compression", entry.Compression.String(),
		)
	}
	if len(entries) == 0 {
		l.logger.Warn("no artifacts matched", "pattern", pattern, "step", stepKey)
	}
	return nil
}

func (l *Local) DownloadArtifact(ctx context.Context, pattern, destination string) error {
	entries, err := l.config.Store.Download(l.config.RunID, []string{pattern}, destination)
	if err != nil {
		return err
	}
	l.logger.Info("artifacts downloaded", "pattern", pattern, "count", len(entries))
	return nil
}

func (l *Local) SetMetadata(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("empty metadata key")
	}
	l.metadataMu.Lock()
	defer l.metadataMu.Unlock()

	values, err := l.readMetadata()
	if err != nil {
		return err
	}
	values[key] = value
	if err := os.MkdirAll(filepath.Dir(l.config.MetadataPath), 0o755); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err := codec.WriteFile(l.config.MetadataPath, values); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

func (l *Local) GetMetadata(ctx context.Context, key string) (string, error) {
	l.metadataMu.Lock()
	defer l.metadataMu.Unlock()

	values, err := l.readMetadata()
	if err != nil {
		return "", err
	}
	value, ok := values[key]
	if !ok {
		return "", fmt.Errorf("%q: %w", key, ErrMetadataNotFound)
	}
	return value, nil
}

// readMetadata loads the metadata file; a missing file is empty.
// Caller holds metadataMu.
func (l *Local) readMetadata() (map[string]string, error) {
	values := make(map[string]string)
	if l.config.MetadataPath == "" {
		return nil, errors.New("builder: no metadata path configured")
	}
	err := codec.ReadFile(l.config.MetadataPath, &values)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	return values, nil
}

func (l *Local) Redact(value string) {
	l.redactor.Add(value)
}

// Close ends the secrets session and closes the bundle.
func (l *Local) Close() error {
	err := l.base.Close()
	if l.config.Bundle != nil {
		err = errors.Join(err, l.config.Bundle.Close())
	}
	return err
}
