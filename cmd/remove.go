package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orbitfaas/orbit/internal/ui"
)

func NewRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove [function] [version]",
		Short: "Remove a deployed function or version",
		Long: `Remove deletes a published version from the deployment store and
announces the removal so running nodes retire its warm contexts. Omitting
the version removes every version of the function.`,
		Example: `  # Remove one version
  orbit remove my-function v42

  # Remove the whole function
  orbit remove my-function`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			functionID := args[0]
			versionID := ""
			if len(args) > 1 {
				versionID = args[1]
			}

			service, cleanup, err := newDeployService()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := service.Remove(cmd.Context(), functionID, versionID); err != nil {
				ui.PrintError(err.Error())
				return err
			}

			// Ask the node directly as well, so removal works without a feed.
			if count, err := engineClient.Invalidate(cmd.Context(), functionID, versionID); err == nil && count > 0 {
				ui.PrintInfo("Retired", fmt.Sprintf("%d warm context(s)", count))
			}

			if versionID == "" {
				ui.PrintSuccess("Removed function " + functionID)
			} else {
				ui.PrintSuccess(fmt.Sprintf("Removed deployment %s/%s", functionID, versionID))
			}
			return nil
		},
	}

	return cmd
}

func init() {
	rootCmd.AddCommand(NewRemoveCommand())
}
