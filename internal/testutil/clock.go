// Package testutil provides deterministic collaborators for tests:
// a fixed-step clock and canned gate metrics, so pipeline runs and golden
// files reproduce exactly.
package testutil

import (
	"sync"
	"time"
)

// FixedStart is the conventional starting instant for deterministic tests.
var FixedStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// DeterministicClock hands out timestamps from a fixed start, advancing by
// a fixed step on every call. Safe for concurrent use.
type DeterministicClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

// NewDeterministicClock creates a clock starting at start. Each Now() call
// advances by step before returning.
func NewDeterministicClock(start time.Time, step time.Duration) *DeterministicClock {
	return &DeterministicClock{current: start, step: step}
}

// Now returns the next timestamp.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(c.step)
	return c.current
}

// Current returns the clock's position without advancing it.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
