// Package events provides the immutable event records the engine produces
// and the bus it publishes them on.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind tags an event record.
type Kind string

const (
	KindStarted       Kind = "STARTED"
	KindStopped       Kind = "STOPPED"
	KindPaused        Kind = "PAUSED"
	KindResumed       Kind = "RESUMED"
	KindCompleted     Kind = "COMPLETED"
	KindFailed        Kind = "FAILED"
	KindActor         Kind = "ACTOR_EVENT"
	KindColony        Kind = "COLONY_EVENT"
	KindSaveRequested Kind = "SAVE_REQUESTED"
)

// IsLifecycle reports whether k is an engine lifecycle transition.
func (k Kind) IsLifecycle() bool {
	switch k {
	case KindStarted, KindStopped, KindPaused, KindResumed, KindCompleted, KindFailed:
		return true
	}
	return false
}

// Event is an immutable record of something that happened in the simulation.
// Values are copied on publish; nothing mutates an Event after New returns.
type Event struct {
	ID       string    `json:"id" db:"id"`
	Kind     Kind      `json:"kind" db:"kind"`
	Tick     uint64    `json:"tick" db:"tick"`
	SimTime  time.Time `json:"sim_time" db:"sim_time"`
	Time     time.Time `json:"time" db:"wall_time"`
	ColonyID string    `json:"colony_id,omitempty" db:"colony_id"`
	ActorID  string    `json:"actor_id,omitempty" db:"actor_id"`
	Category string    `json:"category,omitempty" db:"category"` // "death", "birth", "viability", ...
	Message  string    `json:"message" db:"message"`
}

// New creates an event stamped with a fresh ID and the current wall time.
func New(kind Kind, tick uint64, simTime time.Time, message string) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Tick:    tick,
		SimTime: simTime,
		Time:    time.Now(),
		Message: message,
	}
}

// Colony returns a colony event.
func Colony(tick uint64, simTime time.Time, colonyID, category, message string) Event {
	ev := New(KindColony, tick, simTime, message)
	ev.ColonyID = colonyID
	ev.Category = category
	return ev
}

// Actor returns an actor event.
func Actor(tick uint64, simTime time.Time, colonyID, actorID, category, message string) Event {
	ev := New(KindActor, tick, simTime, message)
	ev.ColonyID = colonyID
	ev.ActorID = actorID
	ev.Category = category
	return ev
}
