/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/expense-tracker/apiserver/config"
	"github.com/spf13/cobra"
)

// appConfig is loaded once before any subcommand runs.
var appConfig config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "expense-tracker",
	Short: "Expense tracker API server and operator tools",
	Long: `Expense tracker backend: a JSON API for registering users, issuing
access tokens and managing each user's own expenses.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		appConfig = config.LoadConfig()
		slog.SetDefault(newLogger(appConfig.LogLevel, os.Stderr))
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the JSON logger. Unknown levels fall back to info.
func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
