package cmd

import (
	"fmt"
	"time"

	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"

	"github.com/orbitfaas/orbit/internal/ui"
)

var (
	logsTail  int
	logsSince time.Duration
)

func NewLogsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [function] [version]",
		Short: "Show console output for a deployment",
		Long: `Logs prints the recent console output captured for one deployed
version, newest entries last. Output produced by the function's own
console.log, console.warn, and console.error calls is included alongside
lifecycle events.`,
		Example: `  # Last 100 lines for a deployment
  orbit logs my-function v42

  # Lines from the last ten minutes
  orbit logs my-function v42 --since 10m`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			functionID, versionID := args[0], args[1]

			lines, err := engineClient.Logs(cmd.Context(), functionID, versionID, logsSince, logsTail)
			if err != nil {
				ui.PrintError(err.Error())
				return err
			}

			if len(lines) == 0 {
				ui.PrintInfo("Logs", "no output recorded for "+functionID+"/"+versionID)
				return nil
			}

			width := ui.TerminalWidth()
			service := functionID + "/" + versionID
			for _, line := range lines {
				ui.PrintServiceLog(service, wordwrap.String(line, width))
			}
			fmt.Println()
			ui.PrintInfo("Entries", fmt.Sprintf("%d", len(lines)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&logsTail, "tail", "n", 100, "Maximum number of lines to show")
	cmd.Flags().DurationVar(&logsSince, "since", 0, "Only show lines newer than this duration (e.g. 10m)")

	return cmd
}

func init() {
	rootCmd.AddCommand(NewLogsCommand())
}
