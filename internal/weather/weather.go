// Package weather provides the shared environment hives live in.
// Conditions are derived from the simulated calendar: a seasonal curve, a
// diurnal cycle and simplex-noise jitter for day-to-day variation.
package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/hive-sim/internal/world"
)

// Season of the simulated year (northern hemisphere).
type Season uint8

const (
	Spring Season = iota
	Summer
	Autumn
	Winter
)

var seasonNames = [4]string{"Spring", "Summer", "Autumn", "Winter"}

// String implements fmt.Stringer.
func (s Season) String() string {
	if int(s) < len(seasonNames) {
		return seasonNames[s]
	}
	return fmt.Sprintf("Season(%d)", s)
}

// SeasonOf maps a calendar time to its season.
func SeasonOf(t time.Time) Season {
	switch t.Month() {
	case time.March, time.April, time.May:
		return Spring
	case time.June, time.July, time.August:
		return Summer
	case time.September, time.October, time.November:
		return Autumn
	default:
		return Winter
	}
}

// Conditions is a snapshot of the environment for one tick. It is a value
// type; bees receive a copy and never observe later updates mid-tick.
type Conditions struct {
	Time        time.Time `json:"time"`
	Season      Season    `json:"season"`
	TempC       float64   `json:"temp_c"`
	NectarFlow  float64   `json:"nectar_flow"` // 0.0 (none) – 1.0 (peak bloom)
	Daylight    bool      `json:"daylight"`
	Raining     bool      `json:"raining"`
	Description string    `json:"description"`

	Meadow *world.Meadow `json:"-"` // Immutable; shared by reference
}

// CanForage reports whether workers can fly out under these conditions.
func (c Conditions) CanForage() bool {
	return c.Daylight && !c.Raining && c.TempC >= 10 && c.TempC <= 38
}

// TempStress is 0 inside the comfortable band and grows toward 1 as the
// temperature leaves it. Bees burn extra energy under stress.
func (c Conditions) TempStress() float64 {
	var off float64
	switch {
	case c.TempC < 15:
		off = 15 - c.TempC
	case c.TempC > 32:
		off = c.TempC - 32
	}
	return math.Min(off/20, 1)
}

// Config controls the climate model.
type Config struct {
	Seed           int64
	MeanTempC      float64 // Annual mean temperature
	SeasonalSwingC float64 // Half the summer–winter difference
	DiurnalSwingC  float64 // Half the afternoon–pre-dawn difference
	RainChance     float64 // Rough fraction of hours with rain (0.0–1.0)
}

// DefaultConfig returns a temperate climate.
func DefaultConfig() Config {
	return Config{
		Seed:           42,
		MeanTempC:      14,
		SeasonalSwingC: 10,
		DiurnalSwingC:  5,
		RainChance:     0.15,
	}
}

// ErrZeroTime is returned when UpdateConditions receives a zero time.
var ErrZeroTime = errors.New("weather: zero time")

// Environment owns the current conditions. UpdateConditions is called once
// per tick by the engine; readers take value snapshots via Conditions.
type Environment struct {
	cfg    Config
	meadow *world.Meadow

	tempNoise opensimplex.Noise
	rainNoise opensimplex.Noise

	mu      sync.RWMutex
	current Conditions
}

// New creates an environment over the given meadow.
func New(cfg Config, meadow *world.Meadow) *Environment {
	return &Environment{
		cfg:       cfg,
		meadow:    meadow,
		tempNoise: opensimplex.NewNormalized(cfg.Seed),
		rainNoise: opensimplex.NewNormalized(cfg.Seed + 1),
		current:   Conditions{Meadow: meadow, Description: "fair weather"},
	}
}

// Meadow returns the foraging meadow.
func (e *Environment) Meadow() *world.Meadow {
	return e.meadow
}

// Conditions returns a snapshot of the current conditions.
func (e *Environment) Conditions() Conditions {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// UpdateConditions recomputes the conditions for the given simulated time.
func (e *Environment) UpdateConditions(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if now.IsZero() {
		return ErrZeroTime
	}

	c := e.compute(now)

	e.mu.Lock()
	prev := e.current
	e.current = c
	e.mu.Unlock()

	if prev.Season != c.Season && !prev.Time.IsZero() {
		slog.Info("season changed", "season", c.Season.String(), "temp_c", fmt.Sprintf("%.1f", c.TempC))
	}
	return nil
}

func (e *Environment) compute(now time.Time) Conditions {
	yday := float64(now.YearDay())
	hour := float64(now.Hour()) + float64(now.Minute())/60
	days := float64(now.Unix()) / 86400

	// Coldest around Jan 20, warmest around mid July.
	seasonal := -math.Cos(2 * math.Pi * (yday - 20) / 365)
	// Coldest around 03:00, warmest around 15:00.
	diurnal := -math.Cos(2 * math.Pi * (hour - 3) / 24)
	jitter := (e.tempNoise.Eval2(days*0.3, 0) - 0.5) * 6

	temp := e.cfg.MeanTempC + e.cfg.SeasonalSwingC*seasonal + e.cfg.DiurnalSwingC*diurnal + jitter

	rainChance := e.cfg.RainChance
	raining := rainChance > 0 && e.rainNoise.Eval2(days*4, 100) > 1-rainChance

	season := SeasonOf(now)
	daylight := hour >= 6 && hour < 20

	flow := seasonalFlow(season)
	if !daylight {
		flow = 0
	}
	if raining {
		flow *= 0.2
	}

	return Conditions{
		Time:        now,
		Season:      season,
		TempC:       temp,
		NectarFlow:  flow,
		Daylight:    daylight,
		Raining:     raining,
		Description: describe(season, temp, raining),
		Meadow:      e.meadow,
	}
}

func seasonalFlow(s Season) float64 {
	switch s {
	case Spring:
		return 0.8
	case Summer:
		return 1.0
	case Autumn:
		return 0.4
	default:
		return 0.05
	}
}

func describe(s Season, temp float64, raining bool) string {
	switch {
	case raining && temp < 2:
		return "sleet"
	case raining:
		return "rain"
	case temp > 30:
		return "hot and dry"
	case temp < 0:
		return "frost"
	}
	switch s {
	case Spring:
		return "mild spring weather"
	case Summer:
		return "warm summer sun"
	case Autumn:
		return "cool autumn breeze"
	default:
		return "cold winter chill"
	}
}
