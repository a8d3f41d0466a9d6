// Package main provides the CLI entry point for pilot, the browser
// automation runtime described by spec.md: a natural-language command is
// classified, planned, and executed against a pooled browser session.
//
// # Basic Usage
//
// Run a single command:
//
//	pilot run "go to example.com and take a screenshot"
//
// Run a structured workflow document, bypassing the classifier/planner:
//
//	pilot run --workflow plan.yaml
//
// Check the configured runtime's defaults:
//
//	pilot status
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() so tests can inspect the command tree directly.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pilot",
		Short: "pilot - natural-language browser automation runtime",
		Long: `pilot classifies a natural-language command, plans it into an
ordered sequence of browser actions, and executes the plan against a
pooled browser session.

Documentation: https://github.com/wayfarer-labs/pilot`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildStatusCmd(),
	)

	return rootCmd
}
