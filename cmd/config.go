package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Create, inspect and validate the proxy configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example configuration",
	Long:  `Write a config.yaml covering each wire format, ready to have keys filled in.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration with secrets masked.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration and report every problem found.`,
	RunE:  runConfigValidate,
}

func init() {
	configInitCmd.Flags().BoolP("force", "f", false, "overwrite an existing configuration")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if force, _ := cmd.Flags().GetBool("force"); cfgMgr.Exists() && !force {
		return fmt.Errorf("configuration already exists at %s (use --force to overwrite)", cfgMgr.GetPath())
	}

	if err := cfgMgr.CreateExampleYAML(); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	color.New(color.FgGreen).Fprintf(out, "Example configuration written to: %s\n", cfgMgr.GetPath())
	color.New(color.FgCyan).Fprintf(out, "Fill in your API keys, then run: %s start\n", AppName)

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	if !cfgMgr.Exists() {
		color.New(color.FgYellow).Fprintf(out, "No configuration found. Run '%s config init' to create one.\n", AppName)
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.New(color.FgBlue).Fprintln(out, "Current Configuration:")
	fmt.Fprintf(out, "  %-15s: %s\n", "Host", cfg.Host)
	fmt.Fprintf(out, "  %-15s: %d\n", "Port", cfg.Port)
	fmt.Fprintf(out, "  %-15s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Fprintf(out, "  %-15s: %s\n", "Config Path", cfgMgr.GetPath())

	fmt.Fprintln(out, "\nProviders:")

	for _, p := range cfg.Providers {
		fmt.Fprintf(out, "  - Name: %s\n", p.Name)
		fmt.Fprintf(out, "    URL: %s\n", p.APIBase)
		fmt.Fprintf(out, "    API Key: %s\n", maskString(p.APIKey))

		if p.API != "" {
			fmt.Fprintf(out, "    API: %s\n", p.API)
		}

		if len(p.ModelWhitelist) > 0 {
			fmt.Fprintf(out, "    Whitelist: %s\n", strings.Join(p.ModelWhitelist, ", "))
		}

		fmt.Fprintf(out, "    Models: %s\n", strings.Join(p.GetAllowedModels(), ", "))
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "Router Configuration:")
	fmt.Fprintf(out, "  %-15s: %s\n", "Default", orNotSet(cfg.Router.Default))

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return errors.New("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	out := cmd.OutOrStdout()

	if err := cfg.Validate(); err != nil {
		color.New(color.FgRed).Fprintln(out, "Configuration validation failed:")
		printErrors(out, err)

		return errors.New("configuration validation failed")
	}

	color.New(color.FgGreen).Fprintln(out, "Configuration is valid!")

	return nil
}

// printErrors lists each error of an errors.Join result on its own line.
func printErrors(w io.Writer, err error) {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			fmt.Fprintf(w, "  - %v\n", e)
		}

		return
	}

	fmt.Fprintf(w, "  - %v\n", err)
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}

	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}

	return s
}
