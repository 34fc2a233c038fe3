package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/hermesllm/internal/config"
)

const (
	AppName = "hermesllm"
	Version = "0.3.0"
)

var (
	logger  *slog.Logger
	baseDir string
	cfgMgr  *config.Manager
)

var rootCmd = &cobra.Command{
	Use:   "hermesllm",
	Short: "hermesllm - LLM protocol translating proxy",
	Long: `A proxy that speaks the OpenAI chat completions, Anthropic messages and
Gemini generate content protocols and translates between them on the fly.`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().String("dir", "", "configuration directory (default ~/.hermesllm)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(decodeStreamCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger = newLogger(cmd.ErrOrStderr(), verbose)

	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}

		dir = filepath.Join(home, "."+AppName)
	}

	baseDir = dir
	cfgMgr = config.NewManager(baseDir)

	return nil
}

// newLogger logs to w, which keeps stdout free for command output.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func ensureConfigExists() error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found in %s", baseDir)
		return fmt.Errorf("configuration required, run '%s config init'", AppName)
	}

	return nil
}
