// Package bees provides the individual actors of a colony: queens, workers
// and drones, their per-tick behavior and the factory that creates them.
package bees

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/talgya/hive-sim/internal/world"
)

// Kind is a bee caste.
type Kind uint8

const (
	KindQueen Kind = iota
	KindWorker
	KindDrone
)

var kindNames = [3]string{"queen", "worker", "drone"}

// String implements fmt.Stringer. The names double as scheduler kind labels.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown bee kind %q", s)
}

// traits holds the per-caste constants.
type traits struct {
	speed    float64       // Meadow units per tick at full energy
	lifespan time.Duration // Sim time from emergence to death by old age
	burn     float64       // Energy spent per update at rest
}

var kindTraits = [3]traits{
	KindQueen:  {speed: 0, lifespan: 2 * 365 * 24 * time.Hour, burn: 0.0008},
	KindWorker: {speed: 6, lifespan: 42 * 24 * time.Hour, burn: 0.0015},
	KindDrone:  {speed: 4, lifespan: 56 * 24 * time.Hour, burn: 0.0012},
}

func (k Kind) traits() traits {
	if int(k) < len(kindTraits) {
		return kindTraits[k]
	}
	return traits{}
}

// Lifespan returns the sim-time lifespan of the caste.
func (k Kind) Lifespan() time.Duration { return k.traits().lifespan }

// Task is what a worker is currently doing.
type Task uint8

const (
	TaskIdle      Task = iota // In the hive
	TaskOutbound              // Flying to a flower patch
	TaskForaging              // Collecting nectar at the patch
	TaskReturning             // Flying home loaded
)

var taskNames = [4]string{"idle", "outbound", "foraging", "returning"}

func (t Task) String() string {
	if int(t) < len(taskNames) {
		return taskNames[t]
	}
	return fmt.Sprintf("task(%d)", t)
}

// ParseTask is the inverse of Task.String.
func ParseTask(s string) (Task, error) {
	for i, name := range taskNames {
		if name == s {
			return Task(i), nil
		}
	}
	return 0, fmt.Errorf("unknown bee task %q", s)
}

// Foraging constants.
const (
	NectarCapacity  = 1.0  // Load at which a forager heads home
	NectarPerVisit  = 0.25 // Per tick at a patch of richness 1 under peak flow
	MinForageEnergy = 0.3  // Below this a worker stays in the hive
	flightBurn      = 1.5  // Burn multiplier while airborne
)

// NoteDeath is the category of the note a bee leaves when it dies.
const NoteDeath = "death"

// Note is something notable that happened to a bee during its update. The
// colony drains notes after the batch and turns them into events.
type Note struct {
	Tick     uint64
	Category string // "death", ...
	Message  string
}

// Bee is one individual. Its liveness flag is atomic and may be read from
// any goroutine. Every other field is mutated only by the bee's own update
// or by its colony while no batch is running.
type Bee struct {
	id     string
	kind   Kind
	bornAt time.Time
	home   world.Vec2

	alive    atomic.Bool
	diedTick uint64

	energy float64
	pos    world.Vec2

	task    Task
	dest    world.Vec2
	hasDest bool
	patch   world.PatchID
	nectar  float64
	eggs    int

	notes []Note
}

func newBee(id string, kind Kind, home world.Vec2, bornAt time.Time, energy float64) *Bee {
	b := &Bee{
		id:     id,
		kind:   kind,
		bornAt: bornAt,
		home:   home,
		energy: energy,
		pos:    home,
	}
	b.alive.Store(true)
	return b
}

func (b *Bee) ID() string           { return b.id }
func (b *Bee) Kind() string         { return b.kind.String() }
func (b *Bee) Caste() Kind          { return b.kind }
func (b *Bee) IsAlive() bool        { return b.alive.Load() }
func (b *Bee) EnergyLevel() float64 { return b.energy }
func (b *Bee) Position() world.Vec2 { return b.pos }
func (b *Bee) BaseSpeed() float64   { return b.kind.traits().speed }
func (b *Bee) Task() Task           { return b.task }
func (b *Bee) Nectar() float64      { return b.nectar }
func (b *Bee) BornAt() time.Time    { return b.bornAt }
func (b *Bee) DiedTick() uint64     { return b.diedTick }

// SetPosition is called by the scheduler's pathing pass.
func (b *Bee) SetPosition(p world.Vec2) { b.pos = p }

// Destination returns where the bee is flying, if anywhere.
func (b *Bee) Destination() (world.Vec2, bool) {
	if !b.hasDest || atPoint(b.pos, b.dest) {
		return world.Vec2{}, false
	}
	return b.dest, true
}

// AtHome reports whether the bee is inside the hive.
func (b *Bee) AtHome() bool { return atPoint(b.pos, b.home) }

// Feed adds energy, capped at 1. It returns the amount actually added.
func (b *Bee) Feed(amount float64) float64 {
	if amount <= 0 || !b.IsAlive() {
		return 0
	}
	before := b.energy
	b.energy = min(1, b.energy+amount)
	return b.energy - before
}

// UnloadNectar empties a forager's crop if it is back in the hive.
func (b *Bee) UnloadNectar() float64 {
	if !b.AtHome() || b.nectar == 0 {
		return 0
	}
	n := b.nectar
	b.nectar = 0
	if b.task == TaskReturning {
		b.task = TaskIdle
		b.hasDest = false
	}
	return n
}

// TakeEggs returns the eggs a queen has laid since the last call.
func (b *Bee) TakeEggs() int {
	n := b.eggs
	b.eggs = 0
	return n
}

// DrainNotes returns and clears the bee's notes.
func (b *Bee) DrainNotes() []Note {
	n := b.notes
	b.notes = nil
	return n
}

// Kill marks the bee dead outside of its own update.
func (b *Bee) Kill(tick uint64, reason string) {
	b.die(tick, reason)
}

func (b *Bee) die(tick uint64, reason string) {
	if !b.alive.CompareAndSwap(true, false) {
		return
	}
	b.diedTick = tick
	b.task = TaskIdle
	b.hasDest = false
	b.notes = append(b.notes, Note{
		Tick:     tick,
		Category: NoteDeath,
		Message:  fmt.Sprintf("%s %s died of %s", b.kind, b.id, reason),
	})
}

func atPoint(a, b world.Vec2) bool {
	return world.Distance(a, b) < 1e-9
}

// Snapshot is a serializable copy of a bee.
type Snapshot struct {
	ID       string        `json:"id"`
	Kind     string        `json:"kind"`
	Alive    bool          `json:"alive"`
	Energy   float64       `json:"energy"`
	BornAt   time.Time     `json:"born_at"`
	DiedTick uint64        `json:"died_tick,omitempty"`
	Position world.Vec2    `json:"position"`
	Task     string        `json:"task"`
	Dest     world.Vec2    `json:"dest"`
	HasDest  bool          `json:"has_dest,omitempty"`
	Patch    world.PatchID `json:"patch"`
	Nectar   float64       `json:"nectar"`
}

// Snapshot copies the bee's state.
func (b *Bee) Snapshot() Snapshot {
	return Snapshot{
		ID:       b.id,
		Kind:     b.kind.String(),
		Alive:    b.IsAlive(),
		Energy:   b.energy,
		BornAt:   b.bornAt,
		DiedTick: b.diedTick,
		Position: b.pos,
		Task:     b.task.String(),
		Dest:     b.dest,
		HasDest:  b.hasDest,
		Patch:    b.patch,
		Nectar:   b.nectar,
	}
}

// Restore rebuilds a bee from a snapshot, including where it is, what it
// is doing and where it is flying.
func Restore(s Snapshot, home world.Vec2) (*Bee, error) {
	kind, err := ParseKind(s.Kind)
	if err != nil {
		return nil, fmt.Errorf("restore bee %s: %w", s.ID, err)
	}
	task, err := ParseTask(s.Task)
	if err != nil {
		return nil, fmt.Errorf("restore bee %s: %w", s.ID, err)
	}
	b := newBee(s.ID, kind, home, s.BornAt, s.Energy)
	b.pos = s.Position
	b.task = task
	b.dest = s.Dest
	b.hasDest = s.HasDest
	b.patch = s.Patch
	b.nectar = s.Nectar
	b.alive.Store(s.Alive)
	b.diedTick = s.DiedTick
	return b, nil
}
