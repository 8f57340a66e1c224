package handlers

import (
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/orbitfaas/orbit/internal/services"
	"github.com/orbitfaas/orbit/internal/ui"
	"github.com/orbitfaas/orbit/internal/ui/models/spinner"
)

// DeployWithSpinner runs a deploy operation behind a spinner and returns its
// result once the program exits.
func DeployWithSpinner(
	message string,
	deployOperation func() (*services.DeployResult, error),
) (*services.DeployResult, time.Duration, error) {
	spinnerModel := spinner.NewSpinnerModelWithMessage(message)
	program := tea.NewProgram(spinnerModel)

	deployStart := time.Now()
	go func() {
		result, err := deployOperation()
		if err != nil {
			program.Send(err)
			return
		}
		if result != nil {
			program.Send(spinner.ResultMsg{Result: *result})
		}
	}()

	model, err := program.Run()
	if err != nil {
		return nil, 0, err
	}

	finalModel, ok := model.(spinner.SpinnerModel)
	if !ok {
		return nil, 0, errors.New("unexpected model type returned from spinner")
	}
	if finalModel.HasError() {
		return nil, 0, finalModel.GetError()
	}

	result, ok := finalModel.GetResult().(services.DeployResult)
	if !ok {
		return nil, 0, errors.New("unexpected result type: expected services.DeployResult")
	}
	return &result, time.Since(deployStart), nil
}

// DisplayDeployResult prints the outcome of one deploy.
func DisplayDeployResult(result services.DeployResult, elapsed time.Duration) {
	ui.PrintSuccess("Function deployed successfully")
	fmt.Println()

	ui.PrintMetadata("Deployment ›", "")
	fmt.Printf("  • %s/%s\n", result.FunctionID, result.VersionID)
	if result.Previous != "" {
		ui.PrintMetadata("Replaces ›", result.Previous)
	}
	ui.PrintMetadata("Staged at ›", result.Path)
	fmt.Println()
	ui.PrintInfo("Deploy time", elapsed.Round(time.Millisecond).String())
}
