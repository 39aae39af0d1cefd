// Bee spawning: founding populations and newly emerged brood.
package bees

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/talgya/hive-sim/internal/world"
)

// Spawner creates bees with sequential IDs. It is safe for concurrent use.
type Spawner struct {
	mu     sync.Mutex
	rng    *rand.Rand
	nextID uint64
}

// NewSpawner creates a bee spawner with the given seed.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:    rand.New(rand.NewPCG(uint64(seed), 300)),
		nextID: 1,
	}
}

// SetNextID sets the next bee ID to be issued (used when restoring from DB).
func (s *Spawner) SetNextID(id uint64) {
	s.mu.Lock()
	s.nextID = id
	s.mu.Unlock()
}

// NextID returns the ID the next spawned bee will receive.
func (s *Spawner) NextID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID
}

// FormatID renders a sequential bee number as a bee ID.
func FormatID(n uint64) string {
	return fmt.Sprintf("bee-%06d", n)
}

// ParseID is the inverse of FormatID.
func ParseID(id string) (uint64, bool) {
	var n uint64
	if _, err := fmt.Sscanf(id, "bee-%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// SpawnFounders creates a founding population: one queen plus the given
// numbers of workers and drones, with ages spread across the first half of
// each caste's lifespan so they do not all die on the same tick.
func (s *Spawner) SpawnFounders(workers, drones int, home world.Vec2, now time.Time) []*Bee {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Bee, 0, 1+workers+drones)
	out = append(out, s.spawnAged(KindQueen, home, now))
	for i := 0; i < workers; i++ {
		out = append(out, s.spawnAged(KindWorker, home, now))
	}
	for i := 0; i < drones; i++ {
		out = append(out, s.spawnAged(KindDrone, home, now))
	}
	return out
}

// Emerge creates a newly emerged bee of the given kind, fully fed.
func (s *Spawner) Emerge(kind Kind, home world.Vec2, now time.Time) *Bee {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newBee(s.issueID(), kind, home, now, 1)
}

func (s *Spawner) spawnAged(kind Kind, home world.Vec2, now time.Time) *Bee {
	age := time.Duration(s.rng.Float64() * 0.5 * float64(kind.Lifespan()))
	energy := 0.7 + s.rng.Float64()*0.3
	return newBee(s.issueID(), kind, home, now.Add(-age), energy)
}

func (s *Spawner) issueID() string {
	id := FormatID(s.nextID)
	s.nextID++
	return id
}
