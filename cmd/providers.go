package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/hermesllm/internal/providers"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List providers and the APIs they serve",
	Long:  `Print the capability table: every known provider, its default URL and which API surfaces it serves.`,
	Run:   runProviders,
}

func runProviders(cmd *cobra.Command, _ []string) {
	out := cmd.OutOrStdout()
	header := color.New(color.FgBlue, color.Bold)

	header.Fprintf(out, "%-14s", "PROVIDER")

	for _, api := range providers.APIs() {
		header.Fprintf(out, " %-17s", api)
	}

	header.Fprintf(out, " %s\n", "URL")

	for _, id := range providers.All() {
		fmt.Fprintf(out, "%-14s", id)

		for _, c := range providers.Capabilities(id) {
			if c.Supported {
				fmt.Fprintf(out, " %s", color.GreenString("%-17s", "yes"))
			} else {
				fmt.Fprintf(out, " %s", color.RedString("%-17s", "no"))
			}
		}

		fmt.Fprintf(out, " %s\n", providers.BaseURL(id))
	}
}
