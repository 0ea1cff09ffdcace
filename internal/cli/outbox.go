package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/codephyt/vaultrelay/internal/relay"
	"github.com/codephyt/vaultrelay/internal/timeline"
)

var (
	outboxStatus string
	outboxLimit  int
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and drive the completion outbox",
}

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued vault completions",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch outboxStatus {
		case "", timeline.OutboxPending, timeline.OutboxDelivered, timeline.OutboxFailed:
		default:
			return fmt.Errorf("unknown status %q (pending, delivered, failed)", outboxStatus)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ledger, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer ledger.Close()

		entries, err := ledger.ListCompletions(outboxStatus, outboxLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, "Outbox is empty.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MESSAGE\tSTATUS\tATTEMPTS\tNEXT\tLAST ERROR")
		for _, e := range entries {
			next := "-"
			if e.Status == timeline.OutboxPending {
				next = e.NextAt.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.MessageID, e.Status, e.Attempts, next, truncate(e.LastError, 60))
		}
		return tw.Flush()
	},
}

var outboxFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Deliver due completions to the vault now",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		ledger, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer ledger.Close()

		engine := newEngine(cfg, relay.Deps{Ledger: ledger})
		delivered, failed := engine.FlushOutbox(commandContext(cmd))
		fmt.Fprintf(cmd.OutOrStdout(), "Delivered %d, still failing %d.\n", delivered, failed)
		return nil
	},
}

var outboxRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Requeue completions that exhausted their attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ledger, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer ledger.Close()

		n, err := ledger.RetryFailedCompletions()
		if err != nil {
			return fmt.Errorf("requeue failed completions: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d completion(s).\n", n)
		return nil
	},
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	outboxListCmd.Flags().StringVar(&outboxStatus, "status", "", "Filter by status (pending, delivered, failed)")
	outboxListCmd.Flags().IntVar(&outboxLimit, "limit", 50, "Maximum entries to show")
	outboxCmd.AddCommand(outboxListCmd, outboxFlushCmd, outboxRetryCmd)
}
