package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"supportdesk/internal/app"
)

func newServeCommand(c *cli) *cobra.Command {
	var (
		shutdownTimeout time.Duration
		host            string
		port            int
		dbPath          string
		uploadDir       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sandbox support API and alert endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			sandbox := c.cfg.Sandbox
			if cmd.Flags().Changed("host") {
				sandbox.Host = host
			}
			if cmd.Flags().Changed("port") {
				sandbox.Port = port
			}
			if cmd.Flags().Changed("db") {
				sandbox.DatabasePath = dbPath
			}
			if cmd.Flags().Changed("upload-dir") {
				sandbox.UploadDir = uploadDir
			}

			application, err := app.NewApplication(c.cfg, c.logger)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}

			// FUNCTIONAL DISCOVERY: Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
			ctx, stop := withSignals(cmd.Context())
			defer stop()
			return application.Run(ctx, shutdownTimeout)
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "Maximum time to wait for graceful shutdown")
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	cmd.Flags().StringVar(&uploadDir, "upload-dir", "", "attachment directory; a temp dir is used when empty")
	return cmd
}

// withSignals cancels on SIGINT/SIGTERM.
func withSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
