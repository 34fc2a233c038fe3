package cmd

import (
	"errors"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/hermesllm/internal/process"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the proxy",
	Long:  `Stop a proxy started with 'start --detach' or running in another terminal.`,
	RunE:  runStop,
}

func runStop(_ *cobra.Command, _ []string) error {
	color.Yellow("Stopping %s...", AppName)

	err := process.NewManager(baseDir).Stop(5 * time.Second)
	if errors.Is(err, process.ErrNotRunning) {
		color.Yellow("Service is not running")
		return nil
	}

	if err != nil {
		return err
	}

	color.Green("Service stopped successfully")

	return nil
}
