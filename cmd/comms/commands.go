// commands.go contains the cobra command definitions and their flag
// configurations. Each builder wires a command to its handler.
package main

import (
	"github.com/spf13/cobra"
)

// buildBrokerCmd creates the "broker" command that runs the websocket hub.
func buildBrokerCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run the websocket stream broker",
		Long: `Run the websocket stream broker.

The broker:
1. Accepts websocket connections on the configured port
2. Fans inbound telemetry out to topic subscribers
3. Tracks physics simulations and their synthetic streams
4. Answers active_streams and connection queries
5. Executes registered tools and publishes their results

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with defaults (port 3000)
  comms broker

  # Start with a config file
  comms broker --config /etc/comms/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroker(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML or JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")
	return cmd
}

// buildEngineCmd creates the "engine" command that runs the module host.
func buildEngineCmd() *cobra.Command {
	var (
		configPath string
		moduleDir  string
		brokerURL  string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Run the module host engine",
		Long: `Run the module host engine.

The engine:
1. Loads builtin modules and .so plugins from the module directory
2. Connects to the broker, reconnecting with backoff when it drops
3. Runs one update loop per module, containing failures per module
4. Publishes negotiation snapshots at the configured rate
5. Applies inbound control and config_update messages`,
		Example: `  # Connect to a local broker with builtin modules only
  comms engine

  # Load plugin modules
  comms engine --modules /opt/comms/modules`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context(), configPath, moduleDir, brokerURL, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML or JSON5 configuration file")
	cmd.Flags().StringVarP(&moduleDir, "modules", "m", "",
		"Directory of .so plugin modules (overrides config)")
	cmd.Flags().StringVarP(&brokerURL, "broker", "b", "",
		"Broker websocket URL (overrides config)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(buildConfigSchemaCmd(), buildConfigCheckCmd())
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration file JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}
}

func buildConfigCheckCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigCheck(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML or JSON5 configuration file")
	return cmd
}
