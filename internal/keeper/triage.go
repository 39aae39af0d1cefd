package keeper

import (
	"fmt"

	"github.com/talgya/hive-sim/internal/colony"
)

// Level grades colony health, worst last.
type Level int

const (
	Healthy Level = iota
	Watch
	Warning
	Critical
)

var levelNames = [...]string{"HEALTHY", "WATCH", "WARNING", "CRITICAL"}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

const (
	// workerMargin flags a colony whose workforce is within this factor of
	// its viability minimum.
	workerMargin = 1.5
	// honeyDropWatch flags a fall in stores of this fraction since the
	// previous cycle.
	honeyDropWatch = 0.2
)

// ColonyHealth holds the diagnostic signals for one colony.
type ColonyHealth struct {
	ID         string
	Name       string
	Level      Level
	Reasons    []string
	Workers    int
	Honey      float64
	HoneyDelta float64 // Change since the previous cycle; zero on the first
}

// Health is the triage result for a whole snapshot.
type Health struct {
	Level    Level // Worst colony level
	Colonies []ColonyHealth
}

// Triage grades every colony in snap. prev, when non-nil, supplies the
// honey stores seen on the previous cycle.
func Triage(snap *Snapshot, prev *CycleRecord) *Health {
	h := &Health{}
	for _, c := range snap.Colonies {
		ch := ColonyHealth{
			ID:      c.ID,
			Name:    c.Name,
			Workers: c.Kinds["worker"],
			Honey:   c.Honey,
		}

		var before float64
		var seen bool
		if prev != nil {
			before, seen = prev.Honey[c.ID]
		}
		if seen {
			ch.HoneyDelta = c.Honey - before
		}

		switch {
		case !c.Viable:
			ch.Level = Critical
			ch.Reasons = append(ch.Reasons, "not viable")
		case c.Honey < colony.StarvationHoney:
			ch.Level = Warning
			ch.Reasons = append(ch.Reasons, fmt.Sprintf("honey %.2f below %.2f", c.Honey, colony.StarvationHoney))
		case float64(ch.Workers) < workerMargin*float64(c.MinWorkers):
			ch.Level = Warning
			ch.Reasons = append(ch.Reasons, fmt.Sprintf("%d workers near minimum %d", ch.Workers, c.MinWorkers))
		case seen && before > 0 && (before-c.Honey)/before > honeyDropWatch:
			ch.Level = Watch
			ch.Reasons = append(ch.Reasons, fmt.Sprintf("honey fell %.0f%%", 100*(before-c.Honey)/before))
		}

		if ch.Level > h.Level {
			h.Level = ch.Level
		}
		h.Colonies = append(h.Colonies, ch)
	}
	return h
}
