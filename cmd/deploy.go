package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orbitfaas/orbit/internal/services"
	"github.com/orbitfaas/orbit/internal/ui/handlers"
	"github.com/orbitfaas/orbit/pkg/engine/feed"
	"github.com/orbitfaas/orbit/pkg/engine/logging"
)

var deployVersion string

func NewDeployCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy [path]",
		Short: "Deploy a function to the node",
		Long: `Deploy publishes one version of a function.

The function sources are staged into the node's deployment store together
with a runtime descriptor derived from the manifest. When a change feed is
configured the new version is announced so running nodes switch their active
route and retire the superseded version's warm contexts.`,
		Example: `  # Deploy the function in the current directory
  orbit deploy .

  # Deploy with an explicit version
  orbit deploy ./my-function --version v42`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			service, cleanup, err := newDeployService()
			if err != nil {
				return err
			}
			defer cleanup()

			result, elapsed, err := handlers.DeployWithSpinner("Deploying...", func() (*services.DeployResult, error) {
				return service.Deploy(cmd.Context(), dir, deployVersion)
			})
			if err != nil {
				return err
			}

			handlers.DisplayDeployResult(*result, elapsed)
			return nil
		},
	}
	cmd.Flags().StringVarP(&deployVersion, "version", "v", "", "Version to publish (derived from content if empty)")

	return cmd
}

// newDeployService builds a deploy service from the node configuration. The
// returned cleanup closes the change feed connection, if one was opened.
func newDeployService() (services.DeployService, func(), error) {
	cfg := loadEngineConfig()

	var publisher services.Publisher
	cleanup := func() {}

	if cfg.Feed.Enabled {
		changeFeed, err := feed.NewRedisFeed(feed.RedisOptions{
			Address:  cfg.Feed.RedisAddr,
			Password: cfg.Feed.RedisPassword,
			DB:       cfg.Feed.RedisDB,
			Channel:  cfg.Feed.Channel,
		}, logging.NewStdLogger(os.Stderr))
		if err != nil {
			return nil, nil, fmt.Errorf("change feed is enabled but unreachable: %w", err)
		}
		publisher = changeFeed
		cleanup = func() { _ = changeFeed.Close() }
	}

	return services.NewDeployService(cfg.Server.DeploymentsDir, publisher, engineClient), cleanup, nil
}

func init() {
	rootCmd.AddCommand(NewDeployCommand())
}
