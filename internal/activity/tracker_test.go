package activity

import (
	"sync"
	"testing"
	"time"
)

func TestIdleAfterThreshold(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

	tr := NewTracker(5 * time.Second)
	tr.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	tr.Touch()
	if tr.Idle() {
		t.Fatal("idle immediately after activity")
	}

	advance(4 * time.Second)
	if tr.Idle() {
		t.Fatal("idle before threshold elapsed")
	}

	advance(2 * time.Second)
	if !tr.Idle() {
		t.Fatal("not idle after threshold elapsed")
	}

	tr.Touch()
	if tr.Idle() {
		t.Fatal("activity did not reset the idle signal")
	}
}

func TestZeroThresholdFallsBackToDefault(t *testing.T) {
	tr := NewTracker(0)
	if tr.threshold != DefaultIdleThreshold {
		t.Fatalf("threshold = %s, want %s", tr.threshold, DefaultIdleThreshold)
	}
}
