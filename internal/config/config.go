// Package config loads hive-sim settings from a YAML file and environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/hive-sim/internal/colony"
	"github.com/talgya/hive-sim/internal/observability"
	"github.com/talgya/hive-sim/internal/weather"
	"github.com/talgya/hive-sim/internal/world"
)

// Config contains all hive-sim settings.
type Config struct {
	Simulation  SimulationConfig  `yaml:"simulation"`
	Colonies    []colony.Config   `yaml:"colonies"`
	Placement   PlacementConfig   `yaml:"placement"`
	Meadow      MeadowConfig      `yaml:"meadow"`
	Weather     WeatherConfig     `yaml:"weather"`
	Persistence PersistenceConfig `yaml:"persistence"`
	API         APIConfig         `yaml:"api"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// SimulationConfig controls the tick loop.
type SimulationConfig struct {
	// Interval is the wall time between ticks.
	Interval time.Duration `yaml:"interval"`

	// SimStep is the simulated time one tick covers.
	SimStep time.Duration `yaml:"sim_step"`

	// Seed feeds every random source (meadow, weather, bees, scheduler).
	Seed int64 `yaml:"seed"`

	// MaxConcurrency bounds concurrent bee updates. Zero means GOMAXPROCS.
	MaxConcurrency int `yaml:"max_concurrency"`

	// AutoSave is the wall time between snapshot requests. Zero disables.
	AutoSave time.Duration `yaml:"autosave"`
}

// MeadowConfig shapes the generated flower meadow.
type MeadowConfig struct {
	Radius     float64 `yaml:"radius"`
	CellSize   float64 `yaml:"cell_size"`
	Threshold  float64 `yaml:"threshold"`
	MaxPatches int     `yaml:"max_patches"`
}

// PlacementConfig founds extra colonies at the best forage sites on the
// meadow, in addition to the listed colonies.
type PlacementConfig struct {
	Count      int     `yaml:"count"`
	Spacing    float64 `yaml:"spacing"`
	Workers    int     `yaml:"workers"`
	Drones     int     `yaml:"drones"`
	Honey      float64 `yaml:"honey"`
	MinWorkers int     `yaml:"min_workers"`
}

// WeatherConfig shapes the climate model.
type WeatherConfig struct {
	MeanTempC      float64 `yaml:"mean_temp_c"`
	SeasonalSwingC float64 `yaml:"seasonal_swing_c"`
	DiurnalSwingC  float64 `yaml:"diurnal_swing_c"`
	RainChance     float64 `yaml:"rain_chance"`
}

// PersistenceConfig locates the sqlite database. An empty path disables
// persistence.
type PersistenceConfig struct {
	Path string `yaml:"path"`
}

// APIConfig configures the HTTP API. An empty address disables it.
type APIConfig struct {
	Addr       string `yaml:"addr"`
	AdminKey   string `yaml:"admin_key"`
	MaxStreams int    `yaml:"max_streams"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry spans.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns a configuration with two founding colonies.
func Default() *Config {
	gen := world.DefaultGenConfig()
	wc := weather.DefaultConfig()
	return &Config{
		Simulation: SimulationConfig{
			Interval:       time.Second,
			SimStep:        time.Minute,
			Seed:           42,
			MaxConcurrency: 0,
			AutoSave:       5 * time.Minute,
		},
		Colonies: []colony.Config{
			{Name: "Linden", Hive: world.Vec2{X: -60, Y: 20}, Workers: 200, Drones: 10, Honey: 80, MinWorkers: 20},
			{Name: "Heather", Hive: world.Vec2{X: 90, Y: -40}, Workers: 150, Drones: 8, Honey: 60, MinWorkers: 20},
		},
		Placement: PlacementConfig{
			Spacing:    world.DefaultHiveSpacing,
			Workers:    120,
			Drones:     6,
			Honey:      40,
			MinWorkers: 20,
		},
		Meadow: MeadowConfig{
			Radius:     gen.Radius,
			CellSize:   gen.CellSize,
			Threshold:  gen.Threshold,
			MaxPatches: gen.MaxPatches,
		},
		Weather: WeatherConfig{
			MeanTempC:      wc.MeanTempC,
			SeasonalSwingC: wc.SeasonalSwingC,
			DiurnalSwingC:  wc.DiurnalSwingC,
			RainChance:     wc.RainChance,
		},
		Persistence: PersistenceConfig{Path: "data/hivesim.db"},
		API:         APIConfig{Addr: ":8080", MaxStreams: 8},
		Logging:     LoggingConfig{Level: "info", Format: "text"},
		Tracing:     TracingConfig{Exporter: "stdout", SampleRatio: 1},
	}
}

// Load reads configuration from path. A missing file (or an empty path)
// yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Simulation.Interval <= 0 {
		return fmt.Errorf("simulation.interval must be positive, got %v", c.Simulation.Interval)
	}
	if c.Simulation.SimStep <= 0 {
		return fmt.Errorf("simulation.sim_step must be positive, got %v", c.Simulation.SimStep)
	}
	if c.Simulation.AutoSave < 0 {
		return fmt.Errorf("simulation.autosave must be non-negative, got %v", c.Simulation.AutoSave)
	}
	if c.Simulation.MaxConcurrency < 0 {
		return fmt.Errorf("simulation.max_concurrency must be non-negative, got %d", c.Simulation.MaxConcurrency)
	}

	seen := make(map[string]bool, len(c.Colonies))
	for i, col := range c.Colonies {
		if col.Name == "" {
			return fmt.Errorf("colonies[%d]: name is required", i)
		}
		if seen[col.Name] {
			return fmt.Errorf("colonies[%d]: duplicate name %q", i, col.Name)
		}
		seen[col.Name] = true
		if col.Workers < 0 || col.Drones < 0 || col.MinWorkers < 0 || col.Honey < 0 {
			return fmt.Errorf("colony %q: counts and honey must be non-negative", col.Name)
		}
	}

	p := c.Placement
	if p.Count < 0 || p.Spacing < 0 || p.Workers < 0 || p.Drones < 0 || p.MinWorkers < 0 || p.Honey < 0 {
		return fmt.Errorf("placement values must be non-negative")
	}

	if c.Meadow.Radius <= 0 || c.Meadow.CellSize <= 0 {
		return fmt.Errorf("meadow radius and cell_size must be positive")
	}
	if c.Meadow.Threshold < 0 || c.Meadow.Threshold > 1 {
		return fmt.Errorf("meadow.threshold must be between 0 and 1, got %f", c.Meadow.Threshold)
	}
	if c.Weather.RainChance < 0 || c.Weather.RainChance > 1 {
		return fmt.Errorf("weather.rain_chance must be between 0 and 1, got %f", c.Weather.RainChance)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	if f := c.Logging.Format; f != "text" && f != "json" {
		return fmt.Errorf("invalid log format: %s (valid: text, json)", f)
	}

	if c.Tracing.Enabled && c.Tracing.Exporter != "stdout" {
		return fmt.Errorf("invalid tracing exporter: %s (valid: stdout)", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %f", c.Tracing.SampleRatio)
	}
	return nil
}

// GenConfig converts the meadow section for world.Generate.
func (c *Config) GenConfig() world.GenConfig {
	return world.GenConfig{
		Radius:     c.Meadow.Radius,
		CellSize:   c.Meadow.CellSize,
		Seed:       c.Simulation.Seed,
		Threshold:  c.Meadow.Threshold,
		MaxPatches: c.Meadow.MaxPatches,
	}
}

// PlacedColonies picks sites on m for the placement section and returns a
// colony config for each.
func (c *Config) PlacedColonies(m *world.Meadow) []colony.Config {
	p := c.Placement
	sites := world.PlaceHives(m, p.Count, p.Spacing, c.Simulation.Seed)
	out := make([]colony.Config, 0, len(sites))
	for _, s := range sites {
		out = append(out, colony.Config{
			Name:       s.Name,
			Hive:       s.Position,
			Workers:    p.Workers,
			Drones:     p.Drones,
			Honey:      p.Honey,
			MinWorkers: p.MinWorkers,
		})
	}
	return out
}

// ClimateConfig converts the weather section for weather.New.
func (c *Config) ClimateConfig() weather.Config {
	return weather.Config{
		Seed:           c.Simulation.Seed,
		MeanTempC:      c.Weather.MeanTempC,
		SeasonalSwingC: c.Weather.SeasonalSwingC,
		DiurnalSwingC:  c.Weather.DiurnalSwingC,
		RainChance:     c.Weather.RainChance,
	}
}

// TraceConfig converts the tracing section for observability.InitTracing.
func (c *Config) TraceConfig() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: "hivesim",
		Exporter:    c.Tracing.Exporter,
		SampleRatio: c.Tracing.SampleRatio,
	}
}

// applyEnvOverrides applies HIVESIM_* environment variables. Unparseable
// values are ignored.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HIVESIM_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Simulation.Interval = d
		}
	}
	if v := os.Getenv("HIVESIM_AUTOSAVE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Simulation.AutoSave = d
		}
	}
	if v := os.Getenv("HIVESIM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Simulation.Seed = n
		}
	}
	if v := os.Getenv("HIVESIM_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.MaxConcurrency = n
		}
	}
	if v, ok := os.LookupEnv("HIVESIM_DB"); ok {
		cfg.Persistence.Path = v
	}
	if v, ok := os.LookupEnv("HIVESIM_ADDR"); ok {
		cfg.API.Addr = v
	}
	if v := os.Getenv("HIVESIM_ADMIN_KEY"); v != "" {
		cfg.API.AdminKey = v
	}
	if v := os.Getenv("HIVESIM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HIVESIM_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("HIVESIM_TRACING"); v != "" {
		cfg.Tracing.Enabled = v == "true" || v == "1"
	}
}
