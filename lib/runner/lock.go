// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hangar-build/hangar/lib/clock"
)

// lockPollInterval is how often a held concurrency lock is retried.
const lockPollInterval = 500 * time.Millisecond

// unsafeLockChars are replaced in lock file names.
var unsafeLockChars = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)

// groupLock is a host-wide exclusive lock for one concurrency group.
type groupLock struct {
	file *os.File
}

// lockPath names the lock file for a concurrency group.
func lockPath(dir, group string) string {
	return filepath.Join(dir, unsafeLockChars.ReplaceAllString(group, "_")+".lock")
}

// acquireGroupLock takes the flock for group, polling until it is
// free or ctx ends. onWait is called once if the lock is held.
func acquireGroupLock(ctx context.Context, dir, group string, clk clock.Clock, onWait func()) (*groupLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	path := lockPath(dir, group)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening concurrency lock %s: %w", path, err)
	}

	var ticker *clock.Ticker
	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			if ticker != nil {
				ticker.Stop()
			}
			return &groupLock{file: file}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			file.Close()
			return nil, fmt.Errorf("locking concurrency group %q: %w", group, err)
		}
		if ticker == nil {
			ticker = clk.NewTicker(lockPollInterval)
			if onWait != nil {
				onWait()
			}
		}
		select {
		case <-ctx.Done():
			ticker.Stop()
			file.Close()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release drops the lock.
func (l *groupLock) Release() error {
	if l == nil {
		return nil
	}
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	return errors.Join(unlockErr, l.file.Close())
}
