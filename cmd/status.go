package cmd

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/hermesllm/internal/process"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy status",
	Long:  `Display whether the proxy is running and where it listens.`,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) {
	out := cmd.OutOrStdout()
	procMgr := process.NewManager(baseDir)

	running := procMgr.IsRunning()

	color.New(color.FgBlue).Fprintf(out, "Status for %s:\n", AppName)

	state := color.RedString("stopped")
	if running {
		state = color.GreenString("running")
	}

	fmt.Fprintf(out, "  %-15s: %s\n", "State", state)
	fmt.Fprintf(out, "  %-15s: %d\n", "PID", procMgr.ReadPID())

	if cfgMgr.Exists() {
		cfg := cfgMgr.Get()
		fmt.Fprintf(out, "  %-15s: http://%s\n", "Endpoint", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
		fmt.Fprintf(out, "  %-15s: %d\n", "Providers", len(cfg.Providers))
	}

	fmt.Fprintf(out, "  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Fprintf(out, "  %-15s: v%s\n", "Version", Version)
}
