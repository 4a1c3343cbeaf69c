package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tasksync-dev/tasksync/internal/server"
	"github.com/tasksync-dev/tasksync/internal/syncer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon with the HTTP front door",
	Long: `Run continuous synchronization. The daemon performs a full sync on
startup, then incremental passes on an adaptive interval: a busy store
shortens the interval toward 10s, a quiet one stretches it toward 5m.
Changes to the local task source trigger an immediate pass.

The HTTP server exposes:
  GET  /healthz   liveness plus sync status and remaining rate budget
  POST /sync      trigger a pass (?full=true for a full pass); 409 if busy
  POST /webhook   tracker issue webhook (HMAC-SHA256 verified)
  GET  /ws        WebSocket stream of sync events

Example usage:
  tasksyncd serve
  tasksyncd serve --config /etc/tasksync/tasksync.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		eng, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.close()

		daemon := syncer.NewDaemon(eng.syncer, eng.watcher, eng.cfg.Sync.Interval, eng.logger)
		if err := daemon.Start(ctx); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}

		srv := server.New(eng.syncer, eng.bus, server.Options{
			Listen:        eng.cfg.Server.Listen,
			WebhookSecret: eng.cfg.Server.WebhookSecret,
			Logger:        eng.logger,
		})
		srv.Start()

		fmt.Printf("tasksyncd listening on http://%s\n", eng.cfg.Server.Listen)
		fmt.Println("Press Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down...")
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutCancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			eng.logger.Printf("Warning: HTTP shutdown: %v", err)
		}
		daemon.Stop(shutCtx)
		fmt.Println("Stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
