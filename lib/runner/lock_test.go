// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hangar-build/hangar/lib/clock"
	"github.com/hangar-build/hangar/lib/testutil"
)

func TestLockPath(t *testing.T) {
	t.Parallel()
	if got, want := lockPath("/locks", "deploy/main prod"), filepath.Join("/locks", "deploy_main_prod.lock"); got != want {
		t.Errorf("lockPath = %q, want %q", got, want)
	}
}

func TestGroupLockWaitsForRelease(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	first, err := acquireGroupLock(context.Background(), dir, "deploy", fake, nil)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	waiting := make(chan struct{}, 1)
	acquired := make(chan *groupLock, 1)
	go func() {
		lock, err := acquireGroupLock(context.Background(), dir, "deploy", fake, func() {
			waiting <- struct{}{}
		})
		if err != nil {
			t.Errorf("second acquire: %v", err)
			return
		}
		acquired <- lock
	}()

	testutil.RequireReceive(t, waiting, 5*time.Second, "second acquire never waited")
	fake.WaitForTimers(1)
	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while the lock was held")
	default:
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	fake.Advance(lockPollInterval)
	second := testutil.RequireReceive(t, acquired, 5*time.Second, "second acquire never succeeded")
	if err := second.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestGroupLockCanceled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	held, err := acquireGroupLock(context.Background(), dir, "deploy", clock.Real(), nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := acquireGroupLock(ctx, dir, "deploy", clock.Real(), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestGroupLocksAreIndependent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	one, err := acquireGroupLock(context.Background(), dir, "one", clock.Real(), nil)
	if err != nil {
		t.Fatalf("acquire one: %v", err)
	}
	defer one.Release()
	two, err := acquireGroupLock(context.Background(), dir, "two", clock.Real(), nil)
	if err != nil {
		t.Fatalf("acquire two: %v", err)
	}
	two.Release()
}
