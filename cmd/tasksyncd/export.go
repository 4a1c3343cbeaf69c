package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tasksync-dev/tasksync/internal/store"
	"github.com/tasksync-dev/tasksync/internal/task"
)

var (
	exportFormat string
	exportStatus string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump tasks to stdout",
	Long: `Write every task (optionally filtered by status) to stdout as YAML
or JSON, for piping into other tools or for backups.

Example usage:
  tasksyncd export
  tasksyncd export --format json --status completed > done.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.close()

		filter := store.TaskFilter{}
		if exportStatus != "" {
			status := task.Status(exportStatus)
			if !status.Valid() {
				return fmt.Errorf("invalid status %q", exportStatus)
			}
			filter.Status = status
		}
		tasks, err := eng.store.ListTasks(ctx, filter)
		if err != nil {
			return err
		}

		switch exportFormat {
		case "yaml":
			enc := yaml.NewEncoder(os.Stdout)
			defer enc.Close()
			return enc.Encode(tasks)
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(tasks)
		}
		return fmt.Errorf("unknown format %q (yaml or json)", exportFormat)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "yaml", "output format (yaml or json)")
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "only tasks with this status")
	rootCmd.AddCommand(exportCmd)
}
