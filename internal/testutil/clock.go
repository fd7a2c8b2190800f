package testutil

import (
	"sync"
	"time"

	"github.com/roach88/hubd/internal/message"
)

// ManualClock is a settable wall clock for tests.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock reading t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

// ClockAtTimestamp creates a clock reading the given protocol timestamp.
func ClockAtTimestamp(ts uint32) *ManualClock {
	return NewManualClock(message.ToTime(ts))
}

// Now returns the current reading.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Timestamp returns the current reading as a protocol timestamp.
func (c *ManualClock) Timestamp() uint32 {
	return message.FromTime(c.Now())
}
