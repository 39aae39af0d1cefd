// Hive placement: finds well-foraged spots and names the colonies founded there.
package world

import (
	"cmp"
	"math/rand/v2"
	"slices"
)

const (
	// ForageRange is how far a site's score looks for flower patches, in metres.
	ForageRange = 150.0
	// DefaultHiveSpacing is the minimum distance between placed hives.
	DefaultHiveSpacing = 60.0
)

// HiveSite is a candidate hive location.
type HiveSite struct {
	Position Vec2
	Score    float64 // Forage desirability
	Name     string
}

// PlaceHives returns up to n hive sites, best first, at least spacing
// metres apart. Candidates are sampled on a grid over the meadow. The
// result is deterministic for a given meadow and seed.
func PlaceHives(m *Meadow, n int, spacing float64, seed int64) []HiveSite {
	if n <= 0 || m.PatchCount() == 0 {
		return nil
	}
	rng := rand.New(rand.NewPCG(uint64(seed), 200))

	step := m.Radius / 10
	if step <= 0 {
		step = 10
	}
	var candidates []HiveSite
	steps := int(m.Radius / step)
	for i := -steps; i <= steps; i++ {
		for j := -steps; j <= steps; j++ {
			p := Vec2{X: float64(i) * step, Y: float64(j) * step}
			if p.Len() > m.Radius {
				continue
			}
			if s := siteScore(m, p); s > 0 {
				candidates = append(candidates, HiveSite{Position: p, Score: s})
			}
		}
	}

	slices.SortStableFunc(candidates, func(a, b HiveSite) int {
		return cmp.Compare(b.Score, a.Score)
	})

	var sites []HiveSite
	for _, c := range candidates {
		if len(sites) >= n {
			break
		}
		if tooClose(c.Position, sites, spacing) {
			continue
		}
		sites = append(sites, c)
	}

	names := generateNames(rng, len(sites))
	for i := range sites {
		sites[i].Name = names[i]
	}
	return sites
}

// siteScore sums patch richness within ForageRange, discounted by distance
// since short flights cost foragers less energy.
func siteScore(m *Meadow, p Vec2) float64 {
	score := 0.0
	for _, patch := range m.Patches {
		d := Distance(p, patch.Position)
		if d > ForageRange {
			continue
		}
		score += patch.Richness / (1 + d/50)
	}
	return score
}

func tooClose(p Vec2, existing []HiveSite, minDist float64) bool {
	for _, s := range existing {
		if Distance(p, s.Position) < minDist {
			return true
		}
	}
	return false
}

// generateNames produces procedural colony names by combining syllables.
func generateNames(rng *rand.Rand, count int) []string {
	prefixes := []string{
		"Clover", "Heather", "Linden", "Bramble", "Thyme", "Sorrel",
		"Willow", "Honey", "Amber", "Thistle", "Elder", "Mallow",
		"Briar", "Lavender", "Rowan", "Hazel", "Sage", "Poppy",
	}
	suffixes := []string{
		"comb", "hollow", "skep", "brook", "field", "dell", "reach",
		"hill", "gate", "mead", "vale", "wood", "bank", "croft",
	}

	used := make(map[string]bool)
	names := make([]string, 0, count)
	limit := len(prefixes) * len(suffixes)

	for len(names) < count {
		name := prefixes[rng.IntN(len(prefixes))] + suffixes[rng.IntN(len(suffixes))]
		if !used[name] || len(used) >= limit {
			used[name] = true
			names = append(names, name)
		}
	}
	return names
}
