package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/talgya/hive-sim/internal/keeper"
)

func newCtlCmd() *cobra.Command {
	var url, key string
	cmd := &cobra.Command{
		Use:       "ctl pause|resume|stop",
		Short:     "Pause, resume or stop a running simulation",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"pause", "resume", "stop"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return fmt.Errorf("admin key required (--key or HIVESIM_ADMIN_KEY)")
			}
			res, err := keeper.NewActor(url, key).Control(cmd.Context(), args[0])
			if err != nil && !errors.Is(err, keeper.ErrNoTransition) {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
			}
			if res.Changed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: engine is now %s\n", res.Action, res.Status)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no change, engine is %s\n", res.Action, res.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", defaultAPIURL, "Simulation API base URL")
	cmd.Flags().StringVar(&key, "key", os.Getenv("HIVESIM_ADMIN_KEY"), "Admin key (default $HIVESIM_ADMIN_KEY)")
	return cmd
}
