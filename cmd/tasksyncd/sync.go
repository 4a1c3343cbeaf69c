package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var syncFull bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass and exit",
	Long: `Run a single synchronization pass. By default this is an
incremental pass over dirty tasks plus a queue drain; --full reconciles
every labeled remote issue and every local task.

Example usage:
  tasksyncd sync
  tasksyncd sync --full`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.close()

		res, err := runPass(ctx, eng, syncFull)
		if err != nil {
			return err
		}
		fmt.Printf("Synced %d items (%d errors) in %v\n",
			res.Processed, res.Errors, res.Duration.Round(time.Millisecond))
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "run a full pass instead of incremental")
	rootCmd.AddCommand(syncCmd)
}
