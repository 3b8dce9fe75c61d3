/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/expense-tracker/apiserver/internal/db"
	"github.com/expense-tracker/apiserver/internal/server"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serverMigrate bool

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the expense tracker API server",
	Long: `Starts the expense tracker API server. Usage:

	expense-tracker server [--migrate]
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serverMigrate {
			if err := db.MigrateUp(appConfig.Database); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			slog.Info("migrations applied", "driver", appConfig.Database.Driver)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, err := server.New(ctx, appConfig)
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()
		slog.Info("server listening", "addr", srv.Addr())

		select {
		case err := <-errCh:
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
		}

		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().BoolVar(&serverMigrate, "migrate", false, "apply pending migrations before serving")
}
