// Package colony provides the hive aggregate: a queen, her workers and
// drones, the honey store and the brood. A colony is the unit the engine
// checks for viability.
package colony

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/hive-sim/internal/bees"
	"github.com/talgya/hive-sim/internal/scheduler"
	"github.com/talgya/hive-sim/internal/world"
)

// Config describes a colony to found.
type Config struct {
	Name       string     `yaml:"name" json:"name"`
	Hive       world.Vec2 `yaml:"hive" json:"hive"`
	Workers    int        `yaml:"workers" json:"workers"`
	Drones     int        `yaml:"drones" json:"drones"`
	Honey      float64    `yaml:"honey" json:"honey"`
	MinWorkers int        `yaml:"min_workers" json:"min_workers"`
}

// Colony owns its bees. The bee roster, honey and brood are guarded by mu;
// individual bee fields other than liveness are only touched by the bee's
// own update or by Settle.
type Colony struct {
	mu sync.RWMutex

	id         string
	name       string
	hive       world.Vec2
	minWorkers int
	spawner    *bees.Spawner

	bees     []*bees.Bee
	honey    float64
	brood    []Brood
	viable   bool
	starving bool
	born     uint64
	died     uint64
}

// Brood is an egg developing into a worker.
type Brood struct {
	LaidAt time.Time `json:"laid_at"`
}

// New creates an empty colony. Bees are added with AddBee.
func New(cfg Config, spawner *bees.Spawner) *Colony {
	if cfg.MinWorkers < 0 {
		cfg.MinWorkers = 0
	}
	return &Colony{
		id:         uuid.NewString(),
		name:       cfg.Name,
		hive:       cfg.Hive,
		minWorkers: cfg.MinWorkers,
		spawner:    spawner,
		honey:      cfg.Honey,
	}
}

// Found creates a colony and populates it with the configured founders.
func Found(cfg Config, spawner *bees.Spawner, now time.Time) *Colony {
	c := New(cfg, spawner)
	c.bees = spawner.SpawnFounders(cfg.Workers, cfg.Drones, cfg.Hive, now)
	c.viable = c.isViableLocked()
	return c
}

func (c *Colony) ID() string   { return c.id }
func (c *Colony) Name() string { return c.name }

// Hive returns the hive position.
func (c *Colony) Hive() world.Vec2 { return c.hive }

// Honey returns the current honey store.
func (c *Colony) Honey() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.honey
}

// AddBee adds b to the roster.
func (c *Colony) AddBee(b *bees.Bee) {
	c.mu.Lock()
	c.bees = append(c.bees, b)
	c.mu.Unlock()
}

// RemoveBee removes the bee with the given ID. It reports whether it was
// present.
func (c *Colony) RemoveBee(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, b := range c.bees {
		if b.ID() == id {
			c.bees = append(c.bees[:i], c.bees[i+1:]...)
			return true
		}
	}
	return false
}

// Bee returns the bee with the given ID.
func (c *Colony) Bee(id string) (*bees.Bee, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.bees {
		if b.ID() == id {
			return b, true
		}
	}
	return nil, false
}

// IsViable reports whether the queen is alive and at least MinWorkers
// workers are alive.
func (c *Colony) IsViable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isViableLocked()
}

func (c *Colony) isViableLocked() bool {
	queen := false
	workers := 0
	for _, b := range c.bees {
		if !b.IsAlive() {
			continue
		}
		switch b.Caste() {
		case bees.KindQueen:
			queen = true
		case bees.KindWorker:
			workers++
		}
	}
	return queen && workers >= c.minWorkers
}

// LivingCount returns the number of living bees.
func (c *Colony) LivingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, b := range c.bees {
		if b.IsAlive() {
			n++
		}
	}
	return n
}

// KindCounts returns the number of living bees per kind label.
func (c *Colony) KindCounts() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counts := make(map[string]int, 3)
	for _, b := range c.bees {
		if b.IsAlive() {
			counts[b.Kind()]++
		}
	}
	return counts
}

// Actors returns a copy of the roster as scheduler actors, dead bees
// included; the scheduler skips them.
func (c *Colony) Actors() []scheduler.Actor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]scheduler.Actor, len(c.bees))
	for i, b := range c.bees {
		out[i] = b
	}
	return out
}

// PathRequests returns a movement request for every living bee that is
// flying somewhere.
func (c *Colony) PathRequests() []scheduler.PathRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []scheduler.PathRequest
	for _, b := range c.bees {
		if !b.IsAlive() {
			continue
		}
		if dest, ok := b.Destination(); ok {
			out = append(out, scheduler.PathRequest{Mover: b, Destination: dest})
		}
	}
	return out
}

// Snapshot is a serializable copy of a colony.
type Snapshot struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Hive       world.Vec2      `json:"hive"`
	MinWorkers int             `json:"min_workers"`
	Honey      float64         `json:"honey"`
	Viable     bool            `json:"viable"`
	Living     int             `json:"living"`
	Born       uint64          `json:"born"`
	Died       uint64          `json:"died"`
	Brood      []Brood         `json:"brood"`
	Bees       []bees.Snapshot `json:"bees"`
	Kinds      map[string]int  `json:"kinds"`
}

// Snapshot copies the colony and all of its bees. It must not be called
// while a batch is updating the colony's bees.
func (c *Colony) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		ID:         c.id,
		Name:       c.name,
		Hive:       c.hive,
		MinWorkers: c.minWorkers,
		Honey:      c.honey,
		Viable:     c.isViableLocked(),
		Born:       c.born,
		Died:       c.died,
		Brood:      append([]Brood(nil), c.brood...),
		Bees:       make([]bees.Snapshot, len(c.bees)),
		Kinds:      make(map[string]int, 3),
	}
	for i, b := range c.bees {
		s.Bees[i] = b.Snapshot()
		if b.IsAlive() {
			s.Living++
			s.Kinds[b.Kind()]++
		}
	}
	return s
}

// Restore rebuilds a colony from a snapshot.
func Restore(s Snapshot, spawner *bees.Spawner) (*Colony, error) {
	if _, err := uuid.Parse(s.ID); err != nil {
		return nil, fmt.Errorf("restore colony %q: bad id: %w", s.Name, err)
	}
	c := &Colony{
		id:         s.ID,
		name:       s.Name,
		hive:       s.Hive,
		minWorkers: s.MinWorkers,
		spawner:    spawner,
		honey:      s.Honey,
		brood:      append([]Brood(nil), s.Brood...),
		born:       s.Born,
		died:       s.Died,
		bees:       make([]*bees.Bee, 0, len(s.Bees)),
	}
	for _, bs := range s.Bees {
		b, err := bees.Restore(bs, s.Hive)
		if err != nil {
			return nil, fmt.Errorf("restore colony %s: %w", s.Name, err)
		}
		c.bees = append(c.bees, b)
	}
	c.viable = c.isViableLocked()
	return c, nil
}
