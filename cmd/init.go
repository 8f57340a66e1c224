package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	globalConfig "github.com/orbitfaas/orbit/internal/config"
	"github.com/orbitfaas/orbit/internal/services"
	"github.com/orbitfaas/orbit/internal/ui"
	"github.com/orbitfaas/orbit/internal/ui/models/spinner"
)

var (
	initTemplate string
	initFromGit  string
	initDir      string
)

func NewInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [name]",
		Short: "Initialize a new function",
		Args:  cobra.ExactArgs(1),
		RunE:  functionInit,
	}
	cmd.Flags().StringVarP(&initTemplate, "template", "t", "", "Function template (javascript, typescript)")
	cmd.Flags().StringVarP(&initFromGit, "from-git", "g", "", "Clone the function template from a git repository")
	cmd.Flags().StringVarP(&initDir, "dir", "d", "", "Target directory (defaults to the function name)")

	return cmd
}

func functionInit(cmd *cobra.Command, args []string) error {
	name := args[0]

	if initFromGit == "" && initTemplate == "" {
		templates := []huh.Option[string]{
			huh.NewOption("JavaScript", "javascript"),
			huh.NewOption("TypeScript", "typescript"),
		}

		baseStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(ui.InfoColor))
		theme := huh.Theme{
			Focused: huh.FieldStyles{
				Title:          baseStyle.Bold(true),
				SelectedOption: ui.SelectStyle,
				SelectSelector: baseStyle,
			},
		}

		selectTemplate := huh.NewSelect[string]().
			Title("Choose a function template").
			Options(templates...).
			Value(&initTemplate)

		form := huh.NewForm(huh.NewGroup(selectTemplate))
		if err := form.WithTheme(&theme).Run(); err != nil {
			return fmt.Errorf("error during template selection: %w", err)
		}
	}

	p := tea.NewProgram(spinner.NewSpinnerModel())

	go func() {
		p.Send("Initializing function...")
		service := services.NewDeployService(globalConfig.DefaultDeploymentsDir(), nil, nil)

		var err error
		if initFromGit != "" {
			err = service.InitFromGit(name, initFromGit, initDir)
		} else {
			err = service.InitFunction(name, initDir, initTemplate)
		}
		if err != nil {
			p.Send(fmt.Errorf("error initializing function: %w", err))
			return
		}

		p.Send(spinner.ResultMsg{Result: fmt.Sprintf("Created function %s", name)})
	}()

	m, err := p.Run()
	if err != nil {
		return err
	}

	finalModel, ok := m.(spinner.SpinnerModel)
	if !ok {
		return fmt.Errorf("unexpected model type returned")
	}

	if !finalModel.HasError() {
		result, ok := finalModel.GetResult().(string)
		if !ok {
			return fmt.Errorf("unexpected result type")
		}
		ui.PrintSuccess(result)
		ui.PrintInfo("Next", fmt.Sprintf("orbit deploy ./%s", name))
	}

	return nil
}

func init() {
	rootCmd.AddCommand(NewInitCommand())
}
