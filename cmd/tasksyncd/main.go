// tasksyncd keeps a local SQLite task store and a label-scoped remote issue
// tracker in agreement.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tasksync-dev/tasksync/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tasksyncd",
	Short: "Bidirectional task-to-issue synchronization",
	Long: `tasksyncd synchronizes a local SQLite task store with a remote,
rate-limited issue tracker. Tasks flow out as labeled issues; issue edits
flow back as task updates. Work that cannot run under the rate budget is
queued and replayed with backoff.

Configuration comes from a YAML file (--config, ./tasksync.yaml, or
~/.config/tasksync/tasksync.yaml) and TASKSYNC_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger builds the shared logger, tee'd into a rotating file when one
// is configured.
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
		if verbose {
			w = io.MultiWriter(os.Stderr, rotator)
		} else {
			w = rotator
		}
	}
	return log.New(w, prefix, log.LstdFlags)
}
