package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/hermesllm/internal/process"
	"github.com/mihaisavezi/hermesllm/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy",
	Long:  `Start the translating proxy in the foreground, or in the background with --detach.`,
	RunE:  runStart,
}

func init() {
	startCmd.Flags().BoolP("detach", "d", false, "run the proxy in the background")
}

func runStart(cmd *cobra.Command, _ []string) error {
	if err := ensureConfigExists(); err != nil {
		return err
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	procMgr := process.NewManager(baseDir)

	if detach, _ := cmd.Flags().GetBool("detach"); detach {
		started, err := procMgr.StartDetached("start", "--dir", baseDir)
		if err != nil {
			return err
		}

		if !started {
			color.Yellow("%s is already running (pid %d)", AppName, procMgr.ReadPID())
			return nil
		}

		color.Green("%s started in the background (pid %d)", AppName, procMgr.ReadPID())

		return nil
	}

	color.Green("Starting %s v%s on %s:%d...", AppName, Version, cfg.Host, cfg.Port)

	if err := procMgr.WritePID(); err != nil {
		return err
	}

	defer func() {
		if err := procMgr.CleanupPID(); err != nil {
			logger.Warn("Failed to remove pid file", "error", err)
		}
	}()

	return server.New(cfgMgr, logger).Start()
}
