// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hangar-build/hangar/lib/clock"
	"github.com/hangar-build/hangar/lib/process"
	"github.com/hangar-build/hangar/lib/secret"
)

// ErrSecretNotFound is returned by GetSecret for unknown keys. It is
// secret.ErrNotFound, so either can be matched with errors.Is.
var ErrSecretNotFound = secret.ErrNotFound

// ErrMetadataNotFound is returned by GetMetadata for unset keys.
var ErrMetadataNotFound = errors.New("metadata key not set")

// Builder is the CI backend seen by the step runner.
type Builder interface {
	// Name identifies the backend in logs.
	Name() string

	// UploadArtifact uploads the files under workspace matching
	// pattern, attributed to stepKey. No match is not an error.
	UploadArtifact(ctx context.Context, stepKey, workspace, pattern string) error

	// DownloadArtifact writes the run's artifacts matching pattern
	// into destination.
	DownloadArtifact(ctx context.Context, pattern, destination string) error

	// GetSecret returns a secret value, registering it for redaction.
	// Unknown keys fail with an error wrapping ErrSecretNotFound.
	GetSecret(ctx context.Context, key string) (string, error)

	SetMetadata(ctx context.Context, key, value string) error

	// GetMetadata fails with ErrMetadataNotFound for unset keys.
	GetMetadata(ctx context.Context, key string) (string, error)

	// Redact masks value in all output relayed from now on.
	Redact(value string)

	// Redactor masks registered values in step output.
	Redactor() *Redactor

	// Secrets is the run's secrets session.
	Secrets() *secret.Session

	// Close ends the secrets session and zeroes cached values.
	Close() error
}

// CommandRunner runs a host command. process.Run satisfies it.
type CommandRunner func(ctx context.Context, argv []string, options process.Options) (int, error)

// SessionOptions configures the secrets session every backend
// creates.
type SessionOptions struct {
	// RenewInterval re-fetches cached secrets once Supervise runs.
	// Zero disables renewal.
	RenewInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// base holds what every backend shares: the redactor and the
// secrets session feeding it.
type base struct {
	redactor *Redactor
	secrets  *secret.Session
	logger   *slog.Logger
}

func newBase(fetch secret.Fetcher, redact func(string), options SessionOptions) (base, error) {
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	redactor := NewRedactor()
	session, err := secret.NewSession(secret.SessionConfig{
		Fetch:         fetch,
		RenewInterval: options.RenewInterval,
		OnFetch: func(key, value string) {
			redact(value)
		},
		Clock:  options.Clock,
		Logger: options.Logger,
	})
	if err != nil {
		return base{}, err
	}
	return base{redactor: redactor, secrets: session, logger: options.Logger}, nil
}

func (b *base) Redactor() *Redactor { return b.redactor }

func (b *base) Secrets() *secret.Session { return b.secrets }

func (b *base) GetSecret(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty secret key: %w", ErrSecretNotFound)
	}
	return b.secrets.Get(ctx, key)
}

func (b *base) Close() error {
	return b.secrets.Close()
}
