package cmd

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/orbitfaas/orbit/internal/services"
	"github.com/orbitfaas/orbit/internal/ui"
	"github.com/orbitfaas/orbit/internal/ui/handlers"
	"github.com/orbitfaas/orbit/pkg/manifest"
)

var composeFile string

func NewComposeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Manage multi-function deployments",
		Long: `Compose deploys or removes a set of functions described by an
orbit-compose.yml file, honoring depends_on ordering.`,
	}
	cmd.PersistentFlags().StringVarP(&composeFile, "file", "f", "", "Path to the compose file (orbit-compose.yml if empty)")

	cmd.AddCommand(newComposeUpCommand())
	cmd.AddCommand(newComposeDownCommand())
	return cmd
}

func newComposeUpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Deploy every function in the compose file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			composeManifest, err := manifest.ParseComposeFile(composeFile)
			if err != nil {
				return err
			}

			order, err := serviceOrder(composeManifest)
			if err != nil {
				return err
			}

			service, cleanup, err := newDeployService()
			if err != nil {
				return err
			}
			defer cleanup()

			baseDir := filepath.Dir(composeFile)
			for _, name := range order {
				entry := composeManifest.Services[name]
				dir := entry.Path
				if !filepath.IsAbs(dir) {
					dir = filepath.Join(baseDir, dir)
				}

				result, elapsed, err := handlers.DeployWithSpinner(
					fmt.Sprintf("Deploying %s...", name),
					func() (*services.DeployResult, error) {
						return service.Deploy(cmd.Context(), dir, entry.Version)
					},
				)
				if err != nil {
					return fmt.Errorf("deploying service %s: %w", name, err)
				}
				ui.PrintSuccess(fmt.Sprintf("Deployed %s as %s/%s in %s",
					name, result.FunctionID, result.VersionID, elapsed.Round(time.Millisecond)))
			}

			ui.PrintSuccess(fmt.Sprintf("Compose up complete, %d function(s) deployed", len(order)))
			return nil
		},
	}
}

func newComposeDownCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Remove every function in the compose file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			composeManifest, err := manifest.ParseComposeFile(composeFile)
			if err != nil {
				return err
			}

			service, cleanup, err := newDeployService()
			if err != nil {
				return err
			}
			defer cleanup()

			baseDir := filepath.Dir(composeFile)
			for name, entry := range composeManifest.Services {
				dir := entry.Path
				if !filepath.IsAbs(dir) {
					dir = filepath.Join(baseDir, dir)
				}

				m, err := manifest.LoadFunctionManifest(dir)
				if err != nil {
					ui.PrintWarning(fmt.Sprintf("Skipping %s: %v", name, err))
					continue
				}

				if err := service.Remove(cmd.Context(), m.FunctionSettings.Name, ""); err != nil {
					return fmt.Errorf("removing service %s: %w", name, err)
				}
				_, _ = engineClient.Invalidate(cmd.Context(), m.FunctionSettings.Name, "")
				ui.PrintSuccess("Removed " + m.FunctionSettings.Name)
			}

			return nil
		},
	}
}

// serviceOrder resolves depends_on into a deploy order, failing on unknown
// references and cycles.
func serviceOrder(m *manifest.ComposeManifest) ([]string, error) {
	names := make([]string, 0, len(m.Services))
	for name := range m.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(names))
	order := make([]string, 0, len(names))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle involving service %s", name)
		}
		state[name] = visiting

		for _, dep := range m.Services[name].DependsOn {
			if _, ok := m.Services[dep]; !ok {
				return fmt.Errorf("service %s depends on unknown service %s", name, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func init() {
	rootCmd.AddCommand(NewComposeCommand())
}
