package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	globalConfig "github.com/orbitfaas/orbit/internal/config"
	"github.com/orbitfaas/orbit/internal/ui"
	"github.com/orbitfaas/orbit/pkg/client"
	"github.com/orbitfaas/orbit/pkg/engine/config"
)

// Global flags
var (
	engineClient client.EngineClient
)

var rootCmd = &cobra.Command{
	Use:   "orbit",
	Short: "Orbit CLI",
	Long: `Orbit is a serverless JavaScript and TypeScript execution platform.

It lets you scaffold, deploy, and invoke functions on a lightweight execution
node that keeps warm contexts per deployed version and retires them when a
new version is published.

Key capabilities:
* Scaffold new functions from templates
* Deploy versioned functions into the node's deployment store
* Invoke functions over HTTP with custom payloads
* Schedule functions with cron triggers
* Inspect node status and per-deployment console logs`,
	Example: `  # Scaffold a new function
  orbit init my-function

  # Run the execution node
  orbit start

  # Deploy a function
  orbit deploy ./my-function

  # Invoke the active version
  orbit call my-function

  # Inspect the node
  orbit status

  # Use a custom config file
  orbit --config ~/.orbit/custom-config.yaml status`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// Skip for help commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// The start command builds the node itself and has no use for a
		// client connection.
		if cmd.CommandPath() != "orbit start" {
			engineClient = client.NewEngineClient(globalConfig.ServerAddress)
		}

		// Check if any command in the hierarchy has a plain flag set to true
		plainFlag := false
		cmd.Flags().Visit(func(f *pflag.Flag) {
			if f.Name == "plain" && f.Value.String() == "true" {
				plainFlag = true
			}
		})

		if !plainFlag {
			ui.PrintLogo()
		}

		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalConfig.ConfigPath, "config", "c", config.DefaultConfigPath, "Path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&globalConfig.ServerAddress, "server", "s", globalConfig.DefaultServerAddress, "Address of the execution node")
}

// loadEngineConfig loads the node configuration from the configured path,
// falling back to defaults when no file exists.
func loadEngineConfig() *config.Config {
	expandedPath := globalConfig.ConfigPath
	if len(expandedPath) > 0 && expandedPath[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			expandedPath = filepath.Join(homeDir, expandedPath[1:])
		}
	}

	cfg, err := config.LoadConfig(expandedPath)
	if err != nil {
		return config.DefaultConfig()
	}
	return cfg
}
