// Package testutil provides shared test doubles, chiefly the
// deterministic wall clock used anywhere engine behavior depends on
// time.
package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a thread-safe manual clock for tests. It
// stands in for the engine's time source so timestamps, vote expiry,
// and ordering are reproducible across runs.
//
// Unlike the real clock it only moves when told to, and can be reset
// so the same scenario replays with identical instants.
type DeterministicClock struct {
	mu    sync.Mutex
	base  time.Time
	now   time.Time
	tick  time.Duration
	ticks int
}

// NewDeterministicClock creates a clock fixed at base. Each Tick()
// advances it by step.
func NewDeterministicClock(base time.Time, step time.Duration) *DeterministicClock {
	return &DeterministicClock{base: base, now: base, tick: step}
}

// Now returns the current instant without advancing.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Tick advances the clock one step and returns the new instant.
func (c *DeterministicClock) Tick() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	c.now = c.now.Add(c.tick)
	return c.now
}

// Advance moves the clock forward by d.
func (c *DeterministicClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Reset returns the clock to its base instant.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.base
	c.ticks = 0
}
