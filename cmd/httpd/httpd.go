// Package httpd implements the httpd command, which serves the read-only
// HTTP API over the store.
package httpd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/datamastor/datamastor/cmd/common"
	"github.com/datamastor/datamastor/internal/api"
)

// Command creates the httpd command.
func Command() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "httpd",
		Short: "Serve the read-only HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := common.NewCommandDeps()
			if err != nil {
				return fmt.Errorf("failed to get dependencies: %w", err)
			}

			db, err := deps.OpenDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := api.NewServer(addr, db, deps.Logger)
			return server.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", envOr("DM_HTTP_ADDR", ":8060"),
		"address to listen on")
	return cmd
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
