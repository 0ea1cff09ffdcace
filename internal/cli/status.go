package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codephyt/vaultrelay/internal/config"
	"github.com/codephyt/vaultrelay/internal/scheduler"
	"github.com/codephyt/vaultrelay/internal/stream"
	"github.com/codephyt/vaultrelay/internal/timeline"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vaultrelay v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, transport session and ledger state",
	RunE:  runStatus,
}

var statusProbe bool

func init() {
	statusCmd.Flags().BoolVar(&statusProbe, "probe", false, "Dial the Kafka brokers when the event stream is configured")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	printHeader(out, "Status")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cfgPath, _ := config.ConfigPath()
	fmt.Fprintf(out, "Config:     %s %s\n", cfgPath, check(fileExists(cfgPath)))
	for _, p := range config.EnvFileCandidates() {
		if fileExists(p) {
			fmt.Fprintf(out, "Env file:   %s\n", p)
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Settings:   %s\n", check(false))
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintf(out, "  - %s\n", line)
		}
	} else {
		fmt.Fprintf(out, "Settings:   %s\n", check(true))
	}
	fmt.Fprintf(out, "Vault:      %s\n", orDash(cfg.Vault.URL))
	fmt.Fprintf(out, "Router:     %s\n", orDash(cfg.Orchestrator.URL))
	fmt.Fprintf(out, "Poll:       every %s (enabled %s)\n", cfg.Poll.Interval, check(cfg.Poll.Enabled))

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Transport:  %s (enabled %s)\n", cfg.Channels.Transport, check(transportEnabled(cfg)))
	switch cfg.Channels.Transport {
	case config.TransportWhatsApp:
		store := cfg.WhatsAppStorePath()
		fmt.Fprintf(out, "  Session:  %s %s\n", store, check(fileExists(store)))
		if qr := cfg.WhatsAppQRPath(); fileExists(qr) {
			fmt.Fprintf(out, "  QR code:  %s\n", qr)
		}
	case config.TransportSlack:
		fmt.Fprintf(out, "  Bot token %s  App token %s\n",
			check(cfg.Channels.Slack.BotToken != ""), check(cfg.Channels.Slack.AppToken != ""))
	}
	if cfg.Stream.Enabled() {
		fmt.Fprintf(out, "Stream:     %s -> %s\n", cfg.Stream.Brokers, cfg.Stream.Topic)
		if statusProbe {
			ctx, cancel := context.WithTimeout(commandContext(cmd), 15*time.Second)
			parts, err := stream.Probe(ctx, cfg.Stream.Brokers, cfg.Stream.Topic, streamSecurity(cfg))
			cancel()
			if err != nil {
				fmt.Fprintf(out, "  Brokers:  %s %v\n", check(false), err)
			} else {
				fmt.Fprintf(out, "  Brokers:  %s (%d partitions)\n", check(true), parts)
			}
		}
	}

	fmt.Fprintln(out)
	ledgerPath := cfg.LedgerPath()
	if !fileExists(ledgerPath) {
		fmt.Fprintf(out, "Ledger:     %s %s (created on first run)\n", ledgerPath, check(false))
		return nil
	}
	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()
	fmt.Fprintf(out, "Ledger:     %s %s\n", ledgerPath, check(true))

	if ledger.IsPaused() {
		fmt.Fprintf(out, "Polling:    %s\n", color.YellowString("paused"))
	} else {
		fmt.Fprintf(out, "Polling:    %s\n", color.GreenString("active"))
	}
	if counts, err := ledger.CountCompletions(); err == nil {
		fmt.Fprintf(out, "Outbox:     %d pending, %d delivered, %d failed\n",
			counts[timeline.OutboxPending], counts[timeline.OutboxDelivered], counts[timeline.OutboxFailed])
	}
	if jobs, err := ledger.ListScheduledJobs(); err == nil && len(jobs) > 0 {
		sort.Slice(jobs, func(i, j int) bool { return jobs[i].JobName < jobs[j].JobName })
		for _, j := range jobs {
			fmt.Fprintf(out, "Job:        %s last %s at %s (%d runs)\n",
				j.JobName, j.LastStatus, j.LastRunAt.Local().Format("2006-01-02 15:04:05"), j.RunCount)
		}
	}
	if pid, since, ok := scheduler.LockInfo(pollLockPath(cfg)); ok {
		fmt.Fprintf(out, "Runner:     pid %d polling since %s\n", pid, since.Local().Format("15:04:05"))
	}
	return nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
