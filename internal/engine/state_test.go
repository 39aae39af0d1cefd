package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/talgya/hive-sim/internal/bees"
	"github.com/talgya/hive-sim/internal/colony"
	"github.com/talgya/hive-sim/internal/events"
)

func TestStateCollection(t *testing.T) {
	s := NewState()
	a := colony.Found(colony.Config{Name: "A", Workers: 3, Drones: 1, MinWorkers: 1, Honey: 5}, bees.NewSpawner(1), DefaultEpoch)
	b := colony.Found(colony.Config{Name: "B", Workers: 2, MinWorkers: 5, Honey: 5}, bees.NewSpawner(2), DefaultEpoch)

	if err := s.Add(a); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(b); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(a); !errors.Is(err, ErrDuplicateColony) {
		t.Errorf("duplicate Add err = %v, want ErrDuplicateColony", err)
	}

	if got := s.TotalLiving(); got != 8 {
		t.Errorf("TotalLiving = %d, want 8", got)
	}
	if got := s.ViableCount(); got != 1 {
		t.Errorf("ViableCount = %d, want 1 (B is below MinWorkers)", got)
	}
	kinds := s.KindCounts()
	if kinds["queen"] != 2 || kinds["worker"] != 5 || kinds["drone"] != 1 {
		t.Errorf("KindCounts = %v", kinds)
	}

	snap := s.Snapshot()
	if snap.Status != "stopped" || len(snap.Colonies) != 2 || snap.Colonies[0].Name != "A" {
		t.Errorf("Snapshot = %+v", snap)
	}

	if !s.Remove(a.ID()) || s.Remove(a.ID()) {
		t.Error("Remove did not remove exactly once")
	}
	if _, ok := s.Colony(b.ID()); !ok {
		t.Error("Colony(b) missing")
	}
	if got := len(s.Colonies()); got != 1 {
		t.Errorf("len(Colonies) = %d, want 1", got)
	}

	s.SetTotalTicks(42)
	if s.TotalTicks() != 42 {
		t.Errorf("TotalTicks = %d, want 42", s.TotalTicks())
	}
}

func TestRecentEventsRing(t *testing.T) {
	s := NewState()
	if got := s.RecentEvents(10); len(got) != 0 {
		t.Fatalf("empty ring returned %d events", len(got))
	}

	for i := 0; i < RecentEventCap+5; i++ {
		s.remember([]events.Event{{ID: fmt.Sprint(i), Tick: uint64(i)}})
	}

	all := s.RecentEvents(0)
	if len(all) != RecentEventCap {
		t.Fatalf("len = %d, want %d", len(all), RecentEventCap)
	}
	if all[0].Tick != 5 || all[len(all)-1].Tick != RecentEventCap+4 {
		t.Errorf("ring spans ticks %d..%d", all[0].Tick, all[len(all)-1].Tick)
	}

	last := s.RecentEvents(3)
	for i, want := range []uint64{RecentEventCap + 2, RecentEventCap + 3, RecentEventCap + 4} {
		if last[i].Tick != want {
			t.Errorf("RecentEvents(3)[%d].Tick = %d, want %d", i, last[i].Tick, want)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		s        Status
		active   bool
		terminal bool
	}{
		{StatusStopped, false, false},
		{StatusRunning, true, false},
		{StatusPaused, true, false},
		{StatusCompleted, false, true},
		{StatusError, false, true},
	}
	for _, tt := range tests {
		if tt.s.Active() != tt.active || tt.s.Terminal() != tt.terminal {
			t.Errorf("%s: Active=%v Terminal=%v", tt.s, tt.s.Active(), tt.s.Terminal())
		}
	}
}
