package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/hive-sim/internal/keeper"
	"github.com/talgya/hive-sim/internal/logging"
)

const defaultAPIURL = "http://localhost:8080"

type keeperOptions struct {
	url             string
	key             string
	interval        time.Duration
	pauseOnCritical bool
	memoryPath      string
	cycles          int
	logLevel        string
}

func newKeeperCmd() *cobra.Command {
	opts := keeperOptions{key: os.Getenv("HIVESIM_ADMIN_KEY")}
	cmd := &cobra.Command{
		Use:   "keeper",
		Short: "Watch a running simulation and report colony health",
		Long: `Run the beekeeper against a simulation's HTTP API. Every cycle it
fetches status and colonies, grades each colony, and logs the ones that
need attention. With --pause-on-critical and an admin key it pauses the
engine the first time a colony stops being viable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runKeeper(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", defaultAPIURL, "Simulation API base URL")
	cmd.Flags().StringVar(&opts.key, "key", opts.key, "Admin key (default $HIVESIM_ADMIN_KEY)")
	cmd.Flags().DurationVar(&opts.interval, "interval", time.Minute, "Time between cycles")
	cmd.Flags().BoolVar(&opts.pauseOnCritical, "pause-on-critical", false, "Pause the engine when a colony turns critical")
	cmd.Flags().StringVar(&opts.memoryPath, "memory", "", "File that keeps recent cycle records between runs")
	cmd.Flags().IntVar(&opts.cycles, "cycles", 0, "Stop after this many cycles (0 = run until interrupted)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level")
	return cmd
}

func runKeeper(ctx context.Context, opts keeperOptions, out, logOut io.Writer) error {
	logger := logging.NewLogger(opts.logLevel, "text", logOut)

	if opts.pauseOnCritical && opts.key == "" {
		return fmt.Errorf("--pause-on-critical needs an admin key")
	}

	mem := &keeper.CycleMemory{}
	if opts.memoryPath != "" {
		var err error
		if mem, err = keeper.LoadMemory(opts.memoryPath); err != nil {
			return err
		}
	}

	k := &keeper.Keeper{
		Observer: keeper.NewObserver(opts.url),
		Policy:   keeper.Policy{PauseOnCritical: opts.pauseOnCritical},
		Memory:   mem,
		Logger:   logger,
	}
	if opts.key != "" {
		k.Actor = keeper.NewActor(opts.url, opts.key)
	}

	logger.Info("keeper starting", "url", opts.url, "interval", opts.interval, "pause_on_critical", opts.pauseOnCritical)
	if err := k.Observer.WaitReady(ctx, 30*time.Second); err != nil {
		return err
	}

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		rec, h, err := k.Cycle(ctx)
		if err != nil {
			logger.Error("observation failed", "error", err)
		} else {
			fmt.Fprintf(out, "tick %d (%s): %s across %d colonies, action %s\n",
				rec.Tick, rec.SimTime, h.Level, len(h.Colonies), rec.Action)
			if opts.memoryPath != "" {
				if err := mem.Save(opts.memoryPath); err != nil {
					logger.Error("memory save failed", "error", err)
				}
			}
		}

		if opts.cycles > 0 && n >= opts.cycles {
			return nil
		}
		select {
		case <-ctx.Done():
			logger.Info("keeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}
