package testutil

import (
	"sync"
	"time"
)

// DeterministicClock provides a thread-safe monotonic logical clock for tests.
//
// It satisfies journal.Clock, and can be reset so the same scenario produces
// identical sequence numbers on every run.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a new deterministic clock starting at 0.
//
// The first call to Next() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{seq: 0}
}

// Next increments and returns the next sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset resets the clock to 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// FixedDate is the wall time reported by FixedClock.
var FixedDate = time.Date(2024, time.March, 14, 9, 30, 0, 0, time.UTC)

// FixedClock reports the same wall time on every call.
// Satisfies store.Clock so record dates are stable in golden files.
type FixedClock struct{}

// Now returns FixedDate.
func (FixedClock) Now() time.Time { return FixedDate }
