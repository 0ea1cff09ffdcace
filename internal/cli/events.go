package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/codephyt/vaultrelay/internal/timeline"
)

var (
	eventsTrace   string
	eventsMessage string
	eventsPath    string
	eventsLimit   int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent relay events from the ledger",
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

		events, err := ledger.GetEvents(timeline.FilterArgs{
			TraceID:   eventsTrace,
			MessageID: eventsMessage,
			Path:      eventsPath,
			Limit:     eventsLimit,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(events) == 0 {
			fmt.Fprintln(out, "No events.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tPATH\tSTAGE\tTRACE\tMESSAGE\tDETAIL")
		for _, e := range events {
			ref := e.MessageID
			if ref == "" {
				ref = e.Sender
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.CreatedAt.Local().Format("01-02 15:04:05"), e.Path, e.Stage, e.TraceID, ref, truncate(e.Detail, 60))
		}
		return tw.Flush()
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsTrace, "trace", "", "Filter by trace id")
	eventsCmd.Flags().StringVar(&eventsMessage, "message", "", "Filter by vault message id")
	eventsCmd.Flags().StringVar(&eventsPath, "path", "", "Filter by path (poll, direct)")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 30, "Maximum events to show")
}
