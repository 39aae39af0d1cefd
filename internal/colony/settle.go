package colony

import (
	"fmt"
	"time"

	"github.com/talgya/hive-sim/internal/bees"
	"github.com/talgya/hive-sim/internal/events"
	"github.com/talgya/hive-sim/internal/weather"
)

// Hive economy constants.
const (
	NectarToHoney   = 0.4  // Honey made per unit of nectar unloaded
	HoneyPerEnergy  = 0.05 // Honey consumed to restore one full unit of energy
	FeedThreshold   = 0.6  // Bees below this energy are fed
	BroodDays       = 21   // Egg to emerged worker
	StarvationHoney = 0.5  // Honey level that raises a starvation warning
)

// Event categories emitted by Settle.
const (
	CategoryDeath      = "death"
	CategoryBirth      = "birth"
	CategoryViability  = "viability"
	CategoryStarvation = "starvation"
)

// Settle runs the colony's post-batch bookkeeping for one tick: it unloads
// foragers, feeds hungry bees, turns laid eggs into brood and mature brood
// into workers, clears out bees that died on an earlier tick and reports
// viability changes. It must run after the tick's bee updates have joined
// and is not safe to call concurrently with them.
func (c *Colony) Settle(tick uint64, env weather.Conditions) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []events.Event
	actor := func(actorID, category, msg string) {
		out = append(out, events.Actor(tick, env.Time, c.id, actorID, category, msg))
	}
	colonyEvent := func(category, msg string) {
		out = append(out, events.Colony(tick, env.Time, c.id, category, msg))
	}

	// Notes and the roster sweep.
	kept := c.bees[:0]
	for _, b := range c.bees {
		for _, n := range b.DrainNotes() {
			if n.Category == bees.NoteDeath {
				c.died++
			}
			actor(b.ID(), n.Category, n.Message)
		}
		if !b.IsAlive() && b.DiedTick() < tick {
			continue
		}
		kept = append(kept, b)
	}
	clear(c.bees[len(kept):])
	c.bees = kept

	// Unload, collect eggs.
	eggs := 0
	for _, b := range c.bees {
		if !b.IsAlive() {
			continue
		}
		c.honey += b.UnloadNectar() * NectarToHoney
		if b.Caste() == bees.KindQueen {
			eggs += b.TakeEggs()
		}
	}
	for i := 0; i < eggs; i++ {
		c.brood = append(c.brood, Brood{LaidAt: env.Time})
	}

	// Feed, queen first.
	hungry := false
	for _, caste := range [...]bees.Kind{bees.KindQueen, bees.KindWorker, bees.KindDrone} {
		for _, b := range c.bees {
			if !b.IsAlive() || b.Caste() != caste || !b.AtHome() || b.EnergyLevel() >= FeedThreshold {
				continue
			}
			want := (1 - b.EnergyLevel()) * HoneyPerEnergy
			if c.honey < want {
				hungry = true
				want = c.honey
			}
			c.honey -= b.Feed(want/HoneyPerEnergy) * HoneyPerEnergy
		}
	}
	if c.honey < 0 {
		c.honey = 0
	}

	starving := hungry || c.honey < StarvationHoney
	if starving && !c.starving {
		colonyEvent(CategoryStarvation, fmt.Sprintf("%s is running out of honey (%.2f left)", c.name, c.honey))
	}
	c.starving = starving

	// Emergence.
	if !env.Time.IsZero() && c.spawner != nil {
		mature := 0
		for _, br := range c.brood {
			if env.Time.Sub(br.LaidAt) < BroodDays*24*time.Hour {
				break
			}
			mature++
		}
		for range mature {
			nb := c.spawner.Emerge(bees.KindWorker, c.hive, env.Time)
			c.bees = append(c.bees, nb)
			c.born++
			actor(nb.ID(), CategoryBirth, fmt.Sprintf("worker %s emerged in %s", nb.ID(), c.name))
		}
		c.brood = c.brood[mature:]
	}

	viable := c.isViableLocked()
	if viable != c.viable {
		if viable {
			colonyEvent(CategoryViability, fmt.Sprintf("%s is viable again", c.name))
		} else {
			colonyEvent(CategoryViability, fmt.Sprintf("%s is no longer viable", c.name))
		}
		c.viable = viable
	}
	return out
}
