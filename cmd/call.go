package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/spf13/cobra"

	"github.com/orbitfaas/orbit/internal/ui"
	"github.com/orbitfaas/orbit/internal/ui/operations"
	"github.com/orbitfaas/orbit/pkg/client"
)

var (
	callVersion string
	callMethod  string
	callPath    string
	callPayload string
	callHeaders []string
	callPlain   bool
)

func NewCallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call [function]",
		Short: "Invoke a deployed function",
		Long: `Call invokes a function on the node and prints its response.

Without --version the call is routed to the function's active version. JSON
responses are pretty-printed with syntax highlighting unless --plain is set.`,
		Example: `  # Invoke the active version
  orbit call my-function

  # Invoke a pinned version with a payload
  orbit call my-function --version v42 --payload '{"user": 1}'

  # Invoke a sub-path with a custom method
  orbit call my-function --method GET --path /items`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			functionID := args[0]

			req := client.InvokeRequest{
				Method:  callMethod,
				Path:    callPath,
				Headers: parseHeaders(callHeaders),
				Body:    []byte(callPayload),
			}

			operation := func() (interface{}, error) {
				if callVersion != "" {
					return engineClient.Invoke(cmd.Context(), functionID, callVersion, req)
				}
				return engineClient.InvokeActive(cmd.Context(), functionID, req)
			}

			return operations.WithSpinner("Calling "+functionID+"...", operation, displayCallResult)
		},
	}
	cmd.Flags().StringVarP(&callVersion, "version", "v", "", "Version to invoke (active version if empty)")
	cmd.Flags().StringVarP(&callMethod, "method", "m", "POST", "HTTP method")
	cmd.Flags().StringVarP(&callPath, "path", "p", "/", "Request path inside the function")
	cmd.Flags().StringVarP(&callPayload, "payload", "d", "", "Request payload")
	cmd.Flags().StringArrayVarP(&callHeaders, "header", "H", nil, "Request header in 'Name: value' form (repeatable)")
	cmd.Flags().BoolVar(&callPlain, "plain", false, "Print the raw response body without styling")

	return cmd
}

func parseHeaders(raw []string) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, found := strings.Cut(h, ":")
		if !found {
			continue
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return headers
}

func displayCallResult(result interface{}) {
	wrapped, ok := result.(struct {
		Data          interface{}
		ExecutionTime time.Duration
	})
	if !ok {
		return
	}
	res, ok := wrapped.Data.(*client.InvokeResult)
	if !ok {
		return
	}

	if res.StatusCode >= 400 {
		ui.PrintWarning(fmt.Sprintf("Node returned status %d", res.StatusCode))
	}

	printResponseBody(res.Body)
	fmt.Println()
	ui.PrintInfo("Status", fmt.Sprintf("%d", res.StatusCode))
	ui.PrintInfo("Time", wrapped.ExecutionTime.Round(time.Millisecond).String())
}

// printResponseBody pretty-prints JSON bodies with highlighting, and falls
// back to raw output for everything else.
func printResponseBody(body []byte) {
	if len(body) == 0 {
		return
	}

	var pretty bytes.Buffer
	if callPlain || json.Indent(&pretty, body, "", "  ") != nil {
		fmt.Println(string(body))
		return
	}

	if err := quick.Highlight(os.Stdout, pretty.String()+"\n", "json", "terminal256", "monokai"); err != nil {
		fmt.Println(pretty.String())
	}
}

func init() {
	rootCmd.AddCommand(NewCallCommand())
}
