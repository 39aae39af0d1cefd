package engine

import (
	"testing"
	"time"
)

func TestClockAdvanceAndReset(t *testing.T) {
	start := time.Date(2026, time.May, 1, 8, 0, 0, 0, time.UTC)
	c := NewClock(start, 10*time.Minute)

	for want := uint64(1); want <= 5; want++ {
		prev := c.CurrentTime()
		if got := c.AdvanceTick(); got != want {
			t.Fatalf("AdvanceTick = %d, want %d", got, want)
		}
		if d := c.CurrentTime().Sub(prev); d != 10*time.Minute {
			t.Fatalf("tick %d advanced time by %v", want, d)
		}
	}

	c.Seek(144)
	if c.CurrentTick() != 144 || !c.CurrentTime().Equal(start.Add(24*time.Hour)) {
		t.Errorf("after Seek(144): tick=%d time=%v", c.CurrentTick(), c.CurrentTime())
	}

	c.Reset()
	if c.CurrentTick() != 0 || !c.CurrentTime().Equal(start) {
		t.Errorf("after Reset: tick=%d time=%v", c.CurrentTick(), c.CurrentTime())
	}
}

func TestNewClockDefaults(t *testing.T) {
	c := NewClock(time.Time{}, 0)
	if c.Step() != DefaultSimStep || !c.Start().Equal(DefaultEpoch) {
		t.Errorf("defaults: step=%v start=%v", c.Step(), c.Start())
	}
	c.AdvanceTick()
	if got := SimTime(c.CurrentTime()); got != "March Day 20, 6:01 Year 2026" {
		t.Errorf("SimTime = %q", got)
	}
}
