package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tasksync-dev/tasksync/internal/syncer"
)

func runPass(ctx context.Context, eng *engine, full bool) (*syncer.Result, error) {
	if full {
		return eng.syncer.FullSync(ctx)
	}
	return eng.syncer.IncrementalSync(ctx)
}

var statusSince time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store and sync statistics",
	Long: `Summarize the local store and recent sync activity: task counts,
pending and dead-lettered queue entries, unresolved conflicts, and
per-operation statistics over the reporting window.

Example usage:
  tasksyncd status
  tasksyncd status --since 1h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.close()

		tasks, err := eng.store.CountTasks(ctx)
		if err != nil {
			return err
		}
		pending, err := eng.store.PendingCount(ctx)
		if err != nil {
			return err
		}
		dead, err := eng.store.DeadLetters(ctx)
		if err != nil {
			return err
		}
		conflicts, err := eng.store.ListConflicts(ctx, true)
		if err != nil {
			return err
		}

		fmt.Printf("Tasks:                %d\n", tasks)
		fmt.Printf("Queue pending:        %d\n", pending)
		fmt.Printf("Queue dead letters:   %d\n", len(dead))
		fmt.Printf("Unresolved conflicts: %d\n", len(conflicts))

		since := time.Now().Add(-statusSince)
		stats, err := eng.store.AggregateStats(ctx, since)
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			fmt.Printf("\nNo sync activity in the last %v\n", statusSince)
			return nil
		}
		fmt.Printf("\nSync activity (last %v):\n", statusSince)
		for _, st := range stats {
			avg := time.Duration(0)
			if st.Runs > 0 {
				avg = st.TotalDuration / time.Duration(st.Runs)
			}
			fmt.Printf("  %-18s runs=%-4d items=%-5d errors=%-4d avg=%v\n",
				st.Operation, st.Runs, st.ItemsProcessed, st.ErrorCount, avg.Round(time.Millisecond))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().DurationVar(&statusSince, "since", 24*time.Hour, "reporting window")
	rootCmd.AddCommand(statusCmd)
}
