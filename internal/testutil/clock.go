package testutil

import (
	"sync"
	"time"
)

// FixedClock always reports the same instant.
//
// Two captures of the same payload under a FixedClock share ts_utc and
// blob_id, so they derive the same segment id: the retry scenario.
//
// Thread-safety: FixedClock is immutable and safe for concurrent use.
type FixedClock struct {
	t time.Time
}

// NewFixedClock creates a clock pinned to t.
func NewFixedClock(t time.Time) FixedClock {
	return FixedClock{t: t}
}

// MustParseClock pins a clock to an RFC 3339 timestamp. Panics on bad input.
func MustParseClock(ts string) FixedClock {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		panic(err)
	}
	return FixedClock{t: t}
}

// Now returns the pinned instant.
func (c FixedClock) Now() time.Time {
	return c.t
}

// SteppingClock advances by a fixed step on every call to Now.
//
// The first call to Now() returns the start time.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SteppingClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewSteppingClock creates a clock starting at start and advancing by step.
func NewSteppingClock(start time.Time, step time.Duration) *SteppingClock {
	return &SteppingClock{next: start, step: step}
}

// Now returns the current instant and advances the clock.
func (c *SteppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(c.step)
	return t
}

// Reset rewinds the clock to start.
//
// Used for test reuse: replaying the same calls yields the same instants.
func (c *SteppingClock) Reset(start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = start
}
