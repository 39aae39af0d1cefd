// Meadow generation using layered simplex noise.
// Flower density is sampled on a grid; patches are placed where density
// clears a threshold.
package world

import (
	"math"
	"math/rand/v2"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GenConfig holds meadow generation parameters.
type GenConfig struct {
	Radius     float64 // Meadow radius in metres
	CellSize   float64 // Sampling grid spacing in metres
	Seed       int64   // Noise seed
	Threshold  float64 // Density threshold for a patch (0.0–1.0)
	MaxPatches int     // Upper bound on generated patches (0 = unlimited)
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Radius:     400,
		CellSize:   25,
		Seed:       42,
		Threshold:  0.55,
		MaxPatches: 256,
	}
}

// SmallTestConfig returns a tiny meadow for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Radius:     100,
		CellSize:   20,
		Seed:       7,
		Threshold:  0.5,
		MaxPatches: 32,
	}
}

// Generate builds a meadow deterministically from cfg.
func Generate(cfg GenConfig) *Meadow {
	if cfg.CellSize <= 0 {
		cfg.CellSize = DefaultGenConfig().CellSize
	}

	density := opensimplex.NewNormalized(cfg.Seed)
	richness := opensimplex.NewNormalized(cfg.Seed + 1)
	jitter := rand.New(rand.NewPCG(uint64(cfg.Seed), 0x6d656164))

	m := &Meadow{Radius: cfg.Radius}
	steps := int(cfg.Radius / cfg.CellSize)
	for i := -steps; i <= steps; i++ {
		for j := -steps; j <= steps; j++ {
			x := float64(i) * cfg.CellSize
			y := float64(j) * cfg.CellSize
			if math.Hypot(x, y) > cfg.Radius {
				continue
			}

			d := octaveNoise(density, x, y, 3, 0.01, 0.5)
			if d < cfg.Threshold {
				continue
			}

			// Offset inside the cell so patches don't sit on a visible grid.
			pos := Vec2{
				X: x + (jitter.Float64()-0.5)*cfg.CellSize,
				Y: y + (jitter.Float64()-0.5)*cfg.CellSize,
			}
			r := 0.3 + 0.7*octaveNoise(richness, x, y, 2, 0.02, 0.5)

			m.Patches = append(m.Patches, Patch{
				ID:       PatchID(len(m.Patches)),
				Position: pos,
				Richness: clamp01(r),
			})
			if cfg.MaxPatches > 0 && len(m.Patches) >= cfg.MaxPatches {
				return m
			}
		}
	}
	return m
}

func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
