package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tasksync-dev/tasksync/internal/store"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List and resolve frozen conflicts",
	Long: `List unresolved conflicts. A task with an unresolved conflict is
frozen: no automatic sync touches it until the conflict is resolved here.

Example usage:
  tasksyncd conflicts
  tasksyncd conflicts resolve 3 --keep local`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.close()

		conflicts, err := eng.store.ListConflicts(ctx, true)
		if err != nil {
			return err
		}
		if len(conflicts) == 0 {
			fmt.Println("No unresolved conflicts")
			return nil
		}
		for _, c := range conflicts {
			fmt.Printf("#%d task=%d detected=%s\n", c.ID, c.TaskID, c.CreatedAt.Format(time.RFC3339))
			fmt.Printf("  local:  %s\n", c.LocalVersion)
			fmt.Printf("  remote: %s\n", c.RemoteVersion)
		}
		return nil
	},
}

var conflictKeep string

var conflictResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Resolve a conflict by keeping one side",
	Long: `Resolve a frozen conflict. --keep local re-flags the task for a
remote push; --keep remote re-flags it for a local pull. Either way the
task is unfrozen and the next sync pass converges it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid conflict id %q", args[0])
		}
		if conflictKeep != "local" && conflictKeep != "remote" {
			return fmt.Errorf("--keep must be local or remote, got %q", conflictKeep)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.close()

		conflicts, err := eng.store.ListConflicts(ctx, true)
		if err != nil {
			return err
		}
		var taskID int64 = -1
		for _, c := range conflicts {
			if c.ID == id {
				taskID = c.TaskID
				break
			}
		}
		if taskID < 0 {
			return fmt.Errorf("no unresolved conflict with id %d", id)
		}

		off := false
		upd := store.TaskUpdate{ConflictDetected: &off}
		on := true
		if conflictKeep == "local" {
			upd.NeedsRemoteSync = &on
		} else {
			upd.NeedsLocalSync = &on
		}
		if _, err := eng.store.UpdateTask(ctx, taskID, upd); err != nil {
			return err
		}
		if err := eng.store.ResolveConflict(ctx, id, "manual_"+conflictKeep, store.ResolvedByUser); err != nil {
			return err
		}
		fmt.Printf("Conflict #%d resolved keeping %s; task %d will converge on the next pass\n",
			id, conflictKeep, taskID)
		return nil
	},
}

func init() {
	conflictResolveCmd.Flags().StringVar(&conflictKeep, "keep", "local", "side to keep (local or remote)")
	conflictsCmd.AddCommand(conflictResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
