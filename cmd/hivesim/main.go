// Command hivesim runs the concurrent honeybee colony simulation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hivesim",
		Short: "Tick-driven honeybee colony simulation",
		Long: `hivesim runs colonies of queens, workers and drones on a shared meadow.

Every tick advances the simulated clock, updates the weather, runs every
bee concurrently, moves foragers and settles each colony. State is saved
to sqlite and served over HTTP.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newKeeperCmd(),
		newCtlCmd(),
	)
	return rootCmd
}
