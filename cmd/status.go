package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/orbitfaas/orbit/internal/ui"
)

func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show node status",
		Long: `Status reports the node's runtime state: warm execution contexts,
in-flight and queued invocations, scheduled cron triggers, and the active
version routed for each function.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := engineClient.Status(cmd.Context())
			if err != nil {
				ui.PrintError(err.Error())
				return err
			}

			ui.PrintMetadata("Node ›", "")
			ui.PrintInfo("Warm contexts", fmt.Sprintf("%d", status.WarmContexts))
			ui.PrintInfo("In flight", fmt.Sprintf("%d", status.InFlight))
			ui.PrintInfo("Queued", fmt.Sprintf("%d", status.Queued))
			ui.PrintInfo("Cron triggers", fmt.Sprintf("%d", status.Scheduled))
			if status.DroppedSinks > 0 {
				ui.PrintWarning(fmt.Sprintf("%d invocation records dropped by the observability sink", status.DroppedSinks))
			}

			if len(status.Routes) == 0 {
				fmt.Println()
				ui.PrintInfo("Routes", "none")
				return nil
			}

			table := ui.NewTable([]string{"FUNCTION", "ACTIVE VERSION", "STATUS"})

			functions := make([]string, 0, len(status.Routes))
			for name := range status.Routes {
				functions = append(functions, name)
			}
			sort.Strings(functions)

			for _, name := range functions {
				table.AddRow(name, status.Routes[name], ui.StyleStatusValue("running"))
			}
			fmt.Print(ui.RenderTable(table))

			return nil
		},
	}

	return cmd
}

func init() {
	rootCmd.AddCommand(NewStatusCommand())
}
