// Per-tick bee behavior. Each bee is updated by exactly one scheduler task
// per tick and touches only its own fields.
package bees

import (
	"context"
	"errors"
	"math"

	"github.com/talgya/hive-sim/internal/scheduler"
	"github.com/talgya/hive-sim/internal/weather"
	"github.com/talgya/hive-sim/internal/world"
)

// ErrNoRand is returned when an update arrives without a random source.
var ErrNoRand = errors.New("activity has no random source")

// ErrCorruptEnergy is returned for a bee whose energy is not a number.
var ErrCorruptEnergy = errors.New("energy is not a number")

// Queen laying.
const (
	layChance      = 0.04 // Per update under peak flow
	minLayEnergy   = 0.5
	minLayTempC    = 12
	maxPendingEggs = 50
)

var _ scheduler.Mover = (*Bee)(nil)

// PerformActivity advances the bee by one tick.
func (b *Bee) PerformActivity(_ context.Context, act scheduler.Activity) error {
	if !b.IsAlive() {
		return nil
	}
	if act.Rand == nil {
		return ErrNoRand
	}
	if math.IsNaN(b.energy) {
		return ErrCorruptEnergy
	}

	if !act.Env.Time.IsZero() && act.Env.Time.Sub(b.bornAt) >= b.kind.Lifespan() {
		b.die(act.Tick, "old age")
		return nil
	}

	burn := b.kind.traits().burn * (1 + act.Env.TempStress())
	if !b.AtHome() {
		burn *= flightBurn
	}
	b.energy -= burn
	if b.energy <= 0 {
		b.energy = 0
		b.die(act.Tick, "starvation")
		return nil
	}

	switch b.kind {
	case KindWorker:
		b.forage(act)
	case KindQueen:
		b.lay(act)
	}
	return nil
}

// forage runs the worker state machine:
// idle -> outbound -> foraging -> returning -> idle (unloaded by the colony).
func (b *Bee) forage(act scheduler.Activity) {
	env := act.Env
	switch b.task {
	case TaskIdle:
		if !env.CanForage() || b.energy < MinForageEnergy || b.nectar > 0 {
			return
		}
		patch, ok := env.Meadow.Pick(act.Rand)
		if !ok {
			return
		}
		b.patch = patch.ID
		b.setDest(patch.Position)
		b.task = TaskOutbound

	case TaskOutbound:
		if !env.CanForage() {
			b.goHome()
			return
		}
		if atPoint(b.pos, b.dest) {
			b.task = TaskForaging
			b.collect(env)
		}

	case TaskForaging:
		if !env.CanForage() || b.energy < MinForageEnergy/2 {
			b.goHome()
			return
		}
		b.collect(env)

	case TaskReturning:
		// Flown home by pathing; the colony unloads.
		if b.AtHome() && b.nectar == 0 {
			b.task = TaskIdle
			b.hasDest = false
		}
	}
}

func (b *Bee) collect(env weather.Conditions) {
	patch, ok := env.Meadow.Get(b.patch)
	if !ok {
		b.goHome()
		return
	}
	b.nectar = math.Min(NectarCapacity, b.nectar+NectarPerVisit*patch.Richness*env.NectarFlow)
	if b.nectar >= NectarCapacity {
		b.goHome()
	}
}

func (b *Bee) goHome() {
	b.task = TaskReturning
	b.setDest(b.home)
}

func (b *Bee) setDest(p world.Vec2) {
	b.dest = p
	b.hasDest = true
}

// lay has a fed, warm queen lay eggs outside winter.
func (b *Bee) lay(act scheduler.Activity) {
	env := act.Env
	if env.Season == weather.Winter || env.TempC < minLayTempC || b.energy < minLayEnergy {
		return
	}
	if b.eggs >= maxPendingEggs {
		return
	}
	if act.Rand.Float64() < layChance*env.NectarFlow {
		b.eggs++
	}
}
