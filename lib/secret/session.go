// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hangar-build/hangar/lib/clock"
)

// ErrNotFound is returned (wrapped) when a secret key does not exist
// in the backing store.
var ErrNotFound = errors.New("secret not found")

// ErrSessionClosed is returned by Get after Close.
var ErrSessionClosed = errors.New("secrets session closed")

// Fetcher retrieves the current value of a secret. It must return an
// error wrapping ErrNotFound for unknown keys.
type Fetcher func(ctx context.Context, key string) (string, error)

// SessionConfig configures a Session.
type SessionConfig struct {
	// Fetch retrieves secret values. Required.
	Fetch Fetcher

	// RenewInterval is how often cached secrets are re-fetched by
	// Supervise. Zero disables renewal.
	RenewInterval time.Duration

	// OnFetch, when set, is called with every value the session
	// fetches, including renewals. The runner uses it to register
	// values with the output redactor.
	OnFetch func(key, value string)

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Session caches secrets for one pipeline run.
type Session struct {
	fetch         Fetcher
	onFetch       func(key, value string)
	renewInterval time.Duration
	clock         clock.Clock
	logger        *slog.Logger

	mu       sync.Mutex
	values   map[string]*Buffer
	renewErr error
	closed   bool

	stop chan struct{}
	done chan struct{}
}

// NewSession creates a Session. Renewal does not start until
// Supervise is called.
func NewSession(config SessionConfig) (*Session, error) {
	if config.Fetch == nil {
		return nil, fmt.Errorf("secret: session requires a fetcher")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Session{
		fetch:         config.Fetch,
		onFetch:       config.OnFetch,
		renewInterval: config.RenewInterval,
		clock:         config.Clock,
		logger:        config.Logger,
		values:        make(map[string]*Buffer),
	}, nil
}

// Get returns the value for key, fetching and caching it on first
// use.
func (s *Session) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	if buffer, ok := s.values[key]; ok {
		value := buffer.String()
		s.mu.Unlock()
		return value, nil
	}
	s.mu.Unlock()

	value, err := s.fetch(ctx, key)
	if err != nil {
		return "", fmt.Errorf("fetching secret %q: %w", key, err)
	}
	if err := s.store(key, value); err != nil {
		return "", err
	}
	return value, nil
}

// store replaces the cached value for key.
func (s *Session) store(key, value string) error {
	if s.onFetch != nil {
		s.onFetch(key, value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	var buffer *Buffer
	if value != "" {
		var err error
		buffer, err = NewFromBytes([]byte(value))
		if err != nil {
			return fmt.Errorf("storing secret %q: %w", key, err)
		}
	} else {
		buffer = emptyBuffer()
	}
	if previous, ok := s.values[key]; ok {
		previous.Close()
	}
	s.values[key] = buffer
	return nil
}

// Supervise starts the renewal loop. It returns immediately; the loop
// runs until ctx is done, Close is called, or a renewal fails. Calling
// Supervise more than once, or with renewal disabled, is a no-op.
func (s *Session) Supervise(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renewInterval <= 0 || s.done != nil || s.closed {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.renewLoop(ctx)
}

func (s *Session) renewLoop(ctx context.Context) {
	defer close(s.done)

	ticker := s.clock.NewTicker(s.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
		}

		if err := s.renew(ctx); err != nil {
			s.logger.Error("secret renewal failed", "error", err)
			s.mu.Lock()
			s.renewErr = err
			s.mu.Unlock()
			return
		}
	}
}

// renew re-fetches every cached key in sorted order.
func (s *Session) renew(ctx context.Context) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	s.mu.Unlock()
	sort.Strings(keys)

	for _, key := range keys {
		value, err := s.fetch(ctx, key)
		if err != nil {
			return fmt.Errorf("renewing secret %q: %w", key, err)
		}
		if err := s.store(key, value); err != nil {
			return err
		}
	}
	s.logger.Debug("renewed secrets", "count", len(keys))
	return nil
}

// Err returns the renewal failure, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renewErr
}

// Close stops renewal, zeros every cached value, and returns the
// renewal failure if one occurred. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		err := s.renewErr
		s.mu.Unlock()
		return err
	}
	s.closed = true
	stop, done := s.stop, s.done
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, buffer := range s.values {
		buffer.Close()
		delete(s.values, key)
	}
	return s.renewErr
}

// emptyBuffer represents an empty secret value without an mmap
// region.
func emptyBuffer() *Buffer {
	return &Buffer{data: []byte{}, locked: false}
}
