// Package clock supplies timestamps for local mutations.
//
// Local writes are ordered by localUpdatedAt, so the system clock is wrapped
// to never return the same or an earlier instant twice, even if the wall
// clock is adjusted backwards.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Monotonic is a Clock whose readings strictly increase.
// Safe for concurrent use.
type Monotonic struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewMonotonic wraps time.Now.
func NewMonotonic() *Monotonic {
	return &Monotonic{now: time.Now}
}

func (c *Monotonic) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Round(0)
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}

// Manual is a deterministic Clock for tests. Now returns the current value
// and then advances it by Step.
type Manual struct {
	mu   sync.Mutex
	t    time.Time
	Step time.Duration
}

// NewManual starts a manual clock at t advancing by one millisecond per read.
func NewManual(t time.Time) *Manual {
	return &Manual{t: t.UTC(), Step: time.Millisecond}
}

func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(c.Step)
	return t
}

// Advance moves the clock forward by d.
func (c *Manual) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Peek returns the next value Now would return, without advancing.
func (c *Manual) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}
