package world

import (
	"math/rand/v2"
)

// PatchID identifies a flower patch within a meadow.
type PatchID uint32

// Patch is a cluster of flowers bees can forage from.
type Patch struct {
	ID       PatchID `json:"id"`
	Position Vec2    `json:"position"`
	// Richness scales how much nectar a forager collects per visit (0.0–1.0).
	Richness float64 `json:"richness"`
}

// Meadow holds all flower patches. It is immutable after generation and
// safe for concurrent readers.
type Meadow struct {
	Radius  float64 `json:"radius"`
	Patches []Patch `json:"patches"`
}

// PatchCount returns the number of flower patches.
func (m *Meadow) PatchCount() int {
	if m == nil {
		return 0
	}
	return len(m.Patches)
}

// Nearest returns the patch closest to p. ok is false for an empty meadow.
func (m *Meadow) Nearest(p Vec2) (Patch, bool) {
	if m.PatchCount() == 0 {
		return Patch{}, false
	}
	best := m.Patches[0]
	bestDist := Distance(p, best.Position)
	for _, patch := range m.Patches[1:] {
		if d := Distance(p, patch.Position); d < bestDist {
			best, bestDist = patch, d
		}
	}
	return best, true
}

// Pick chooses a patch using rng, weighted by richness so that scouts
// favour good forage. ok is false for an empty meadow.
func (m *Meadow) Pick(rng *rand.Rand) (Patch, bool) {
	if m.PatchCount() == 0 {
		return Patch{}, false
	}
	total := 0.0
	for _, patch := range m.Patches {
		total += patch.Richness
	}
	if total <= 0 {
		return m.Patches[rng.IntN(len(m.Patches))], true
	}
	target := rng.Float64() * total
	for _, patch := range m.Patches {
		target -= patch.Richness
		if target <= 0 {
			return patch, true
		}
	}
	return m.Patches[len(m.Patches)-1], true
}

// Get returns the patch with the given id.
func (m *Meadow) Get(id PatchID) (Patch, bool) {
	if m == nil || int(id) >= len(m.Patches) {
		return Patch{}, false
	}
	return m.Patches[id], true
}
