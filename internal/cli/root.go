// Package cli implements the vaultrelay command line.
package cli

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/codephyt/vaultrelay/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		" __   __         _ _   ___     _\n" +
		" \\ \\ / /_ _ _  _| | |_| _ \\___| |__ _ _  _\n" +
		"  \\ V / _` | || | |  _|   / -_) / _` | || |\n" +
		"   \\_/\\__,_|\\_,_|_|\\__|_|_\\___|_\\__,_|\\_, |\n" +
		"                                      |__/\n"
)

var rootCmd = &cobra.Command{
	Use:          "vaultrelay",
	Short:        "vaultrelay - store-and-forward relay between a vault, an orchestrator and chat",
	Long:         color.CyanString(logo) + "\nPolls the vault for pending inquiries, routes them to the orchestrator\nand answers direct chat messages over WhatsApp or Slack.",
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pollOnceCmd)
	rootCmd.AddCommand(outboxCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(eventsCmd)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
