// Package activity tracks the last moment the user touched the terminal.
// The idle signal it derives is only ever a request parameter (the option
// chain's recenter flag); it never gates scheduling or cancellation.
package activity

import (
	"sync/atomic"
	"time"
)

const DefaultIdleThreshold = 5 * time.Second

type Tracker struct {
	last      atomic.Int64 // unix nanos of last activity
	threshold time.Duration
	now       func() time.Time
}

func NewTracker(threshold time.Duration) *Tracker {
	if threshold <= 0 {
		threshold = DefaultIdleThreshold
	}
	t := &Tracker{threshold: threshold, now: time.Now}
	t.last.Store(t.now().UnixNano())
	return t
}

// Touch records user activity.
func (t *Tracker) Touch() {
	t.last.Store(t.now().UnixNano())
}

// Idle reports whether the user has been quiet past the threshold.
func (t *Tracker) Idle() bool {
	return t.now().Sub(time.Unix(0, t.last.Load())) >= t.threshold
}

// LastActivity returns the most recent recorded activity instant.
func (t *Tracker) LastActivity() time.Time {
	return time.Unix(0, t.last.Load())
}
