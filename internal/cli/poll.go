package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codephyt/vaultrelay/internal/relay"
)

var pollOnceCmd = &cobra.Command{
	Use:   "poll-once",
	Short: "Run one poll cycle now, even while paused",
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
		pub := newPublisher(cfg)
		defer pub.Close()

		engine := newEngine(cfg, relay.Deps{Ledger: ledger, Publisher: pub})
		sched := newScheduler(cfg, ledger, func(ctx context.Context) error {
			return engine.RunCycle(ctx).Err
		})
		runErr := sched.RunOnce(commandContext(cmd), pollJob)

		c := engine.LastCycle()
		if c == nil {
			return runErr
		}
		printCycle(cmd.OutOrStdout(), c)
		return runErr
	},
}

func printCycle(w io.Writer, c *relay.PollCycle) {
	result := color.GreenString("ok")
	if c.Err != nil {
		result = color.RedString("failed")
	}
	fmt.Fprintf(w, "Cycle:        %s (%s)\n", c.ID, result)
	fmt.Fprintf(w, "Flushed:      %d\n", c.Flushed)
	fmt.Fprintf(w, "Fetched:      %d\n", c.Fetched)
	fmt.Fprintf(w, "Acknowledged: %d\n", c.Acknowledged)
	fmt.Fprintf(w, "Degraded:     %d\n", c.Degraded)
	fmt.Fprintf(w, "Queued:       %d\n", c.Queued)
	fmt.Fprintf(w, "Skipped:      %d\n", c.Skipped)
	fmt.Fprintf(w, "Rejected:     %d\n", c.Rejected)
	fmt.Fprintf(w, "Duration:     %s\n", c.FinishedAt.Sub(c.StartedAt).Round(time.Millisecond))
	if c.Err != nil {
		fmt.Fprintf(w, "Error:        %v\n", c.Err)
	}
}
