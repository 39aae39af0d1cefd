package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/talgya/hive-sim/internal/colony"
	"github.com/talgya/hive-sim/internal/events"
	"github.com/talgya/hive-sim/internal/scheduler"
	"github.com/talgya/hive-sim/internal/weather"
)

// Status is the engine lifecycle state.
type Status int32

const (
	StatusStopped Status = iota
	StatusRunning
	StatusPaused
	StatusCompleted
	StatusError
)

var statusNames = [5]string{"stopped", "running", "paused", "completed", "error"}

func (s Status) String() string {
	if int(s) >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", s)
}

// Active reports whether a loop is running or paused.
func (s Status) Active() bool { return s == StatusRunning || s == StatusPaused }

// Terminal reports whether the engine can no longer be started.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusError }

// RecentEventCap is how many published events State keeps for RecentEvents.
const RecentEventCap = 1000

// ErrDuplicateColony is returned by Add for a colony ID already present.
var ErrDuplicateColony = errors.New("colony already present")

// Entity is a composite the engine advances each tick: a colony.
type Entity interface {
	ID() string
	Name() string
	IsViable() bool
	LivingCount() int
	KindCounts() map[string]int
	Actors() []scheduler.Actor
	PathRequests() []scheduler.PathRequest
	Settle(tick uint64, env weather.Conditions) []events.Event
	Snapshot() colony.Snapshot
}

// State is the shared simulation state. Status and the colony collection
// change only under mu; the engine holds mu for the whole of a tick's
// dispatch, so Add and Remove never interleave with an update.
type State struct {
	mu       sync.RWMutex
	status   Status
	ticks    uint64
	lastSave time.Time
	env      Environment
	colonies []Entity

	recentMu sync.Mutex
	recent   []events.Event // Ring buffer of RecentEventCap
	next     int
	full     bool
}

// NewState creates an empty, stopped state.
func NewState() *State {
	return &State{recent: make([]events.Event, RecentEventCap)}
}

// Add appends c to the collection.
func (s *State) Add(c Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.colonies {
		if existing.ID() == c.ID() {
			return fmt.Errorf("add %s: %w", c.ID(), ErrDuplicateColony)
		}
	}
	s.colonies = append(s.colonies, c)
	return nil
}

// Remove deletes the colony with the given ID and reports whether it was
// present.
func (s *State) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.colonies {
		if c.ID() == id {
			s.colonies = append(s.colonies[:i], s.colonies[i+1:]...)
			return true
		}
	}
	return false
}

// Colonies returns a copy of the collection in insertion order.
func (s *State) Colonies() []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entity(nil), s.colonies...)
}

// Colony returns the colony with the given ID.
func (s *State) Colony(id string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.colonies {
		if c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

// Status returns the lifecycle status.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// TotalTicks returns the number of ticks the engine has completed.
func (s *State) TotalTicks() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticks
}

// LastSave returns the wall time of the last save request.
func (s *State) LastSave() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSave
}

// Environment returns the environment the engine updates each tick.
func (s *State) Environment() Environment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.env
}

// TotalLiving returns the number of living bees across all colonies.
func (s *State) TotalLiving() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.livingLocked()
}

// ViableCount returns the number of viable colonies.
func (s *State) ViableCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viableLocked()
}

// KindCounts sums living bees per kind across all colonies.
func (s *State) KindCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for _, c := range s.colonies {
		for k, n := range c.KindCounts() {
			out[k] += n
		}
	}
	return out
}

func (s *State) livingLocked() int {
	n := 0
	for _, c := range s.colonies {
		n += c.LivingCount()
	}
	return n
}

func (s *State) viableLocked() int {
	n := 0
	for _, c := range s.colonies {
		if c.IsViable() {
			n++
		}
	}
	return n
}

// Snapshot is a consistent copy of the state between ticks.
type Snapshot struct {
	Status    string            `json:"status"`
	Ticks     uint64            `json:"ticks"`
	ClockTick uint64            `json:"clock_tick"` // Set by Engine.Snapshot only
	SimTime   time.Time         `json:"sim_time"`   // Set by Engine.Snapshot only
	LastSave  time.Time         `json:"last_save"`
	Colonies  []colony.Snapshot `json:"colonies"`
}

// Snapshot copies the state and every colony. It never observes a tick
// half-applied.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:   s.status.String(),
		Ticks:    s.ticks,
		LastSave: s.lastSave,
		Colonies: make([]colony.Snapshot, len(s.colonies)),
	}
	for i, c := range s.colonies {
		snap.Colonies[i] = c.Snapshot()
	}
	return snap
}

// SetTotalTicks sets the tick counter (used when restoring from DB). It is
// ignored while the engine is active.
func (s *State) SetTotalTicks(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Active() {
		return
	}
	s.ticks = n
}

// RecentEvents returns up to n of the most recently published events,
// oldest first.
func (s *State) RecentEvents(n int) []events.Event {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()

	size := s.next
	if s.full {
		size = len(s.recent)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]events.Event, n)
	start := s.next - n
	if start < 0 {
		start += len(s.recent)
	}
	for i := range out {
		out[i] = s.recent[(start+i)%len(s.recent)]
	}
	return out
}

func (s *State) remember(evs []events.Event) {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	for _, ev := range evs {
		s.recent[s.next] = ev
		s.next++
		if s.next == len(s.recent) {
			s.next = 0
			s.full = true
		}
	}
}
