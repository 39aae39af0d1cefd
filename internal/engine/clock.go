// Package engine provides the tick-based simulation loop: the clock, the
// shared simulation state and the engine that drives them through the
// Stopped/Running/Paused/Completed/Error lifecycle.
package engine

import (
	"fmt"
	"sync"
	"time"
)

// Tick schedule at the default step of one sim-minute.
const (
	DefaultSimStep  = time.Minute
	TicksPerSimHour = 60   // 60 ticks = 1 sim-hour
	TicksPerSimDay  = 1440 // 24 hours × 60
)

// DefaultEpoch is the sim time of tick 0: dawn on the first day of spring.
var DefaultEpoch = time.Date(2026, time.March, 20, 6, 0, 0, 0, time.UTC)

// Clock tracks simulated time. The tick counter only moves forward, except
// through Reset. Readers may call CurrentTime and CurrentTick from any
// goroutine.
type Clock struct {
	mu    sync.RWMutex
	start time.Time
	step  time.Duration
	now   time.Time
	tick  uint64
}

// NewClock creates a clock at tick 0. A non-positive step uses
// DefaultSimStep; a zero start uses DefaultEpoch.
func NewClock(start time.Time, step time.Duration) *Clock {
	if step <= 0 {
		step = DefaultSimStep
	}
	if start.IsZero() {
		start = DefaultEpoch
	}
	return &Clock{start: start, step: step, now: start}
}

// CurrentTime returns the current sim time.
func (c *Clock) CurrentTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// CurrentTick returns the current tick.
func (c *Clock) CurrentTick() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tick
}

// Step returns the sim time covered by one tick.
func (c *Clock) Step() time.Duration { return c.step }

// Start returns the sim time of tick 0.
func (c *Clock) Start() time.Time { return c.start }

// AdvanceTick moves the clock forward by one step and returns the new tick.
func (c *Clock) AdvanceTick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick++
	c.now = c.now.Add(c.step)
	return c.tick
}

// Seek positions the clock at the given tick (used when restoring from DB).
func (c *Clock) Seek(tick uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick = tick
	c.now = c.start.Add(time.Duration(tick) * c.step)
}

// Reset returns the clock to tick 0.
func (c *Clock) Reset() {
	c.Seek(0)
}

// SimTime returns a human-readable simulation time string for a sim time.
func SimTime(t time.Time) string {
	return fmt.Sprintf("%s Day %d, %d:%02d Year %d",
		t.Month(), t.Day(), t.Hour(), t.Minute(), t.Year())
}
