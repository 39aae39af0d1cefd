package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/talgya/hive-sim/internal/api"
	"github.com/talgya/hive-sim/internal/bees"
	"github.com/talgya/hive-sim/internal/colony"
	"github.com/talgya/hive-sim/internal/config"
	"github.com/talgya/hive-sim/internal/engine"
	"github.com/talgya/hive-sim/internal/logging"
	"github.com/talgya/hive-sim/internal/observability"
	"github.com/talgya/hive-sim/internal/persistence"
	"github.com/talgya/hive-sim/internal/scheduler"
	"github.com/talgya/hive-sim/internal/weather"
	"github.com/talgya/hive-sim/internal/world"
)

type runOptions struct {
	configPath string
	dbPath     string
	dbSet      bool
	ticks      uint64
	fresh      bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation until interrupted",
		Long: `Run the simulation. A saved snapshot in the database is resumed unless
--fresh is given. SIGINT or SIGTERM stops the engine and saves a final
snapshot.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.dbSet = cmd.Flags().Changed("db")
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSimulation(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "hivesim.yaml", "Path to the YAML config file")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides config; empty disables persistence)")
	cmd.Flags().Uint64Var(&opts.ticks, "ticks", 0, "Stop after this many ticks (0 = run until interrupted)")
	cmd.Flags().BoolVar(&opts.fresh, "fresh", false, "Ignore any saved snapshot and found new colonies")
	return cmd
}

// runSimulation wires every component and blocks until the engine stops,
// completes or fails.
func runSimulation(ctx context.Context, opts runOptions, out, logOut io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.dbSet {
		cfg.Persistence.Path = opts.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, logOut)
	slog.SetDefault(logger)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.TraceConfig(), logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)

	// ── Metrics ───────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	schedMetrics, err := observability.NewSchedulerCollector(reg)
	if err != nil {
		return err
	}
	engMetrics, err := observability.NewEngineCollector(reg)
	if err != nil {
		return err
	}

	// ── World (always regenerated, deterministic from seed) ───────────
	meadow := world.Generate(cfg.GenConfig())
	env := weather.New(cfg.ClimateConfig(), meadow)
	logger.Info("meadow generated", "patches", meadow.PatchCount(), "radius", cfg.Meadow.Radius)
	if placed := cfg.PlacedColonies(meadow); len(placed) > 0 {
		cfg.Colonies = append(cfg.Colonies, placed...)
		logger.Info("hive sites placed", "count", len(placed))
	}

	sched := scheduler.New(scheduler.Options{
		MaxConcurrency: cfg.Simulation.MaxConcurrency,
		Seed:           uint64(cfg.Simulation.Seed),
		Logger:         logger,
		Metrics:        schedMetrics,
	})

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	if path := cfg.Persistence.Path; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		db, err = persistence.Open(path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		logger.Info("database opened", "path", path)
	} else {
		logger.Warn("persistence disabled, state will not be saved")
	}

	// ── Load or found colonies ────────────────────────────────────────
	spawner := bees.NewSpawner(cfg.Simulation.Seed)
	clock := engine.NewClock(engine.DefaultEpoch, cfg.Simulation.SimStep)
	state := engine.NewState()

	restored, err := restoreOrFound(db, opts.fresh, cfg, spawner, clock, state, logger)
	if err != nil {
		return err
	}

	eng, err := engine.New(state, env, sched,
		engine.WithLogger(logger),
		engine.WithMetrics(engMetrics),
		engine.WithClock(clock),
		engine.WithAutoSaveInterval(cfg.Simulation.AutoSave),
	)
	if err != nil {
		return err
	}
	defer eng.Close()

	snapshot := func() persistence.Saved {
		snap := eng.Snapshot()
		return persistence.Saved{
			TotalTicks: snap.Ticks,
			ClockTick:  snap.ClockTick,
			NextBeeID:  spawner.NextID(),
			SavedAt:    time.Now(),
			Colonies:   snap.Colonies,
		}
	}

	var recorder *persistence.Recorder
	if db != nil {
		recorder = persistence.NewRecorder(db, snapshot, logger)
		recorder.Attach(eng.Bus())
		if !restored {
			if err := db.SaveSnapshot(snapshot()); err != nil {
				logger.Error("initial save failed", "error", err)
			}
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	var apiServer *api.Server
	if cfg.API.Addr != "" {
		if cfg.API.AdminKey == "" {
			logger.Warn("HIVESIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
		}
		apiServer = &api.Server{
			Eng:        eng,
			DB:         db,
			Gatherer:   reg,
			Addr:       cfg.API.Addr,
			AdminKey:   cfg.API.AdminKey,
			Logger:     logger,
			MaxStreams: cfg.API.MaxStreams,
		}
		apiServer.Start()
	}

	// ── Start ─────────────────────────────────────────────────────────
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.ticks > 0 {
		go stopAfter(runCtx, cancel, state, state.TotalTicks()+opts.ticks, cfg.Simulation.Interval)
	}

	fmt.Fprintf(out, "The meadow hums: %s bees in %d colonies across %d flower patches.\n",
		humanize.Comma(int64(state.TotalLiving())), len(state.Colonies()), meadow.PatchCount())
	if cfg.API.Addr != "" {
		fmt.Fprintf(out, "API: http://localhost%s/api/v1/status\n", cfg.API.Addr)
	}
	if restored {
		fmt.Fprintf(out, "Resuming from tick %s (%s)\n",
			humanize.Comma(int64(clock.CurrentTick())), engine.SimTime(clock.CurrentTime()))
	}

	started := time.Now()
	runErr := eng.Run(runCtx, cfg.Simulation.Interval)
	status := eng.Status()

	if apiServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown failed", "error", err)
		}
		done()
	}

	// Closing the engine drains the bus so the recorder sees every event.
	eng.Close()
	if recorder != nil {
		recorder.Close()
		logger.Info("final save...")
		if err := db.SaveSnapshot(snapshot()); err != nil {
			logger.Error("final save failed", "error", err)
		}
	}

	fmt.Fprintf(out, "Simulation %s after %s ticks (%s wall time): %s bees alive, %d of %d colonies viable.\n",
		status,
		humanize.Comma(int64(state.TotalTicks())),
		time.Since(started).Round(time.Millisecond),
		humanize.Comma(int64(state.TotalLiving())),
		state.ViableCount(), len(state.Colonies()),
	)
	if runErr != nil {
		return fmt.Errorf("simulation failed: %w", runErr)
	}
	return nil
}

// restoreOrFound loads the saved snapshot into state, or founds the
// configured colonies when there is none (or fresh is set). It reports
// whether a snapshot was restored.
func restoreOrFound(db *persistence.DB, fresh bool, cfg *config.Config, spawner *bees.Spawner,
	clock *engine.Clock, state *engine.State, logger *slog.Logger) (bool, error) {
	if db != nil && !fresh {
		has, err := db.HasSnapshot()
		if err != nil {
			return false, fmt.Errorf("check snapshot: %w", err)
		}
		if has {
			saved, err := db.LoadSnapshot()
			if err != nil {
				return false, fmt.Errorf("load snapshot: %w", err)
			}
			spawner.SetNextID(saved.NextBeeID)
			for _, cs := range saved.Colonies {
				c, err := colony.Restore(cs, spawner)
				if err != nil {
					return false, fmt.Errorf("restore colony %q: %w", cs.Name, err)
				}
				if err := state.Add(c); err != nil {
					return false, fmt.Errorf("restore colony %q: %w", cs.Name, err)
				}
			}
			clock.Seek(saved.ClockTick)
			state.SetTotalTicks(saved.TotalTicks)
			logger.Info("simulation restored",
				"colonies", len(saved.Colonies),
				"bees", state.TotalLiving(),
				"tick", saved.ClockTick,
				"sim_time", engine.SimTime(clock.CurrentTime()),
				"saved", humanize.Time(saved.SavedAt),
			)
			return true, nil
		}
	}

	logger.Info("founding colonies", "count", len(cfg.Colonies))
	for _, cc := range cfg.Colonies {
		c := colony.Found(cc, spawner, clock.CurrentTime())
		if err := state.Add(c); err != nil {
			return false, fmt.Errorf("found colony %q: %w", cc.Name, err)
		}
		logger.Info("colony founded", "colony", c.Name(), "id", c.ID(), "bees", c.LivingCount(), "honey", cc.Honey)
	}
	return false, nil
}

// stopAfter cancels the run once the state has counted target ticks.
func stopAfter(ctx context.Context, cancel context.CancelFunc, state *engine.State, target uint64, interval time.Duration) {
	poll := interval / 4
	if poll <= 0 {
		poll = time.Millisecond
	}
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if state.TotalTicks() >= target {
				cancel()
				return
			}
		}
	}
}
