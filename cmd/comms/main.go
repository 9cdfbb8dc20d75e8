// Package main provides the CLI entry point for the comms telemetry and
// control fabric.
//
// The fabric has two processes. The broker is the websocket hub every other
// participant connects to; it fans out telemetry by topic, tracks physics
// simulations, answers queries and executes registered tools. The engine
// hosts producer modules, publishing their stream values to the broker at a
// fixed rate and applying inbound control and config messages.
//
// # Basic Usage
//
// Start the broker:
//
//	comms broker --config comms.yaml
//
// Start an engine against it:
//
//	comms engine --config comms.yaml
//
// Print the configuration file schema:
//
//	comms config schema
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "comms",
		Short: "comms - websocket telemetry and control fabric",
		Long: `comms connects producer modules, physics simulations and tool executors
over a topic-routed websocket fabric.

Processes: broker (hub), engine (module host)
Topics: broadcast, physics, tools, trading`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildBrokerCmd(),
		buildEngineCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}
