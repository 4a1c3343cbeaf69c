package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the offline sync queue",
}

var queueDeadCmd = &cobra.Command{
	Use:   "dead",
	Short: "List dead-lettered queue entries",
	Long: `List queue entries whose retries are spent. Dead letters are never
retried automatically; they stay visible here until the underlying cause is
fixed and the work is re-triggered with a sync pass.

Example usage:
  tasksyncd queue dead`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.close()

		entries, err := eng.store.DeadLetters(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No dead letters")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("#%d task=%d %s %s retries=%d/%d last error: %s\n",
				e.ID, e.TaskID, e.Operation, e.Target, e.RetryCount, e.MaxRetries, e.ErrorMessage)
		}
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueDeadCmd)
	rootCmd.AddCommand(queueCmd)
}
