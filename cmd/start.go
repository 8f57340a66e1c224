package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	globalConfig "github.com/orbitfaas/orbit/internal/config"
	"github.com/orbitfaas/orbit/internal/di"
	"github.com/orbitfaas/orbit/pkg/engine"
)

// NewStartCommand creates the command that runs the execution node.
func NewStartCommand() *cobra.Command {
	var flags struct {
		httpAddr string
		logLevel string
	}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the execution node",
		Long: `Start the Orbit execution node.

The node provides:
* A QuickJS runtime for deployed JavaScript and TypeScript functions
* One warm execution context per deployed version
* Concurrency ceilings with bounded admission queueing
* Cron triggers for scheduled functions
* An invalidation feed that retires superseded versions

The node must be running for deploy, call, and status commands to work.`,
		Example: `  # Start the node with default settings
  orbit start

  # Start on a custom HTTP port
  orbit start --http :9090

  # Start with detailed logging
  orbit start --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Starting Orbit node...")
			fmt.Println("Press Ctrl+C to stop")

			appConfig := di.NewAppConfig(globalConfig.ConfigPath, flags.httpAddr, flags.logLevel)

			runCtx, cancel := context.WithCancel(context.Background())
			defer cancel()

			app := fx.New(
				fx.Supply(appConfig),
				di.Module,

				fx.Invoke(func(lc fx.Lifecycle, shutdowner fx.Shutdowner, e *engine.Engine) {
					lc.Append(fx.Hook{
						OnStart: func(context.Context) error {
							go func() {
								if err := e.Start(runCtx); err != nil {
									fmt.Fprintf(os.Stderr, "Node failed: %v\n", err)
								}
								_ = shutdowner.Shutdown()
							}()
							return nil
						},
						OnStop: func(context.Context) error {
							cancel()
							return nil
						},
					})
				}),

				fx.StartTimeout(30*time.Second),
				fx.StopTimeout(30*time.Second),
			)

			if err := app.Start(context.Background()); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}

			// Blocks until SIGINT/SIGTERM or the engine exits on its own.
			<-app.Done()

			if err := app.Stop(context.Background()); err != nil {
				return fmt.Errorf("error during shutdown: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.httpAddr, "http", "H", "", "HTTP server address (overrides config)")
	cmd.Flags().StringVarP(&flags.logLevel, "log-level", "L", "info", "Log level (error, info, debug)")

	return cmd
}

func init() {
	rootCmd.AddCommand(NewStartCommand())
}
