// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockAfterFiresOnAdvance(t *testing.T) {
	t.Parallel()

	clock := Fake(epoch)
	channel := clock.After(3 * time.Second)

	select {
	case <-channel:
		t.Fatal("After fired before Advance")
	default:
	}

	clock.Advance(3 * time.Second)

	select {
	case fired := <-channel:
		if !fired.Equal(epoch.Add(3 * time.Second)) {
			t.Errorf("fired at %v, want %v", fired, epoch.Add(3*time.Second))
		}
	default:
		t.Fatal("After did not fire after Advance")
	}
}

func TestFakeClockTickerReschedules(t *testing.T) {
	t.Parallel()

	clock := Fake(epoch)
	ticker := clock.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for i := range 3 {
		clock.Advance(250 * time.Millisecond)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d not delivered", i)
		}
	}
	if pending := clock.PendingCount(); pending != 1 {
		t.Errorf("PendingCount = %d, want 1 (the ticker)", pending)
	}
}

func TestFakeClockStoppedTickerDoesNotFire(t *testing.T) {
	t.Parallel()

	clock := Fake(epoch)
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()
	clock.Advance(5 * time.Second)

	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
	if pending := clock.PendingCount(); pending != 0 {
		t.Errorf("PendingCount = %d, want 0", pending)
	}
}

func TestFakeClockWaitForTimers(t *testing.T) {
	t.Parallel()

	clock := Fake(epoch)
	done := make(chan struct{})
	go func() {
		clock.Sleep(time.Minute)
		close(done)
	}()

	clock.WaitForTimers(1)
	clock.Advance(time.Minute)
	<-done
}
