package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause vault polling (direct chat keeps answering)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPaused(cmd, true)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume vault polling",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPaused(cmd, false)
	},
}

func setPaused(cmd *cobra.Command, paused bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	if err := ledger.SetPaused(paused); err != nil {
		return fmt.Errorf("update pause flag: %w", err)
	}
	if paused {
		fmt.Fprintln(cmd.OutOrStdout(), "Vault polling paused.")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Vault polling resumed.")
	}
	return nil
}
