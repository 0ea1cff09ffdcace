package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/codephyt/vaultrelay/internal/config"
	"github.com/codephyt/vaultrelay/internal/logging"
	"github.com/codephyt/vaultrelay/internal/orchestrator"
	"github.com/codephyt/vaultrelay/internal/relay"
	"github.com/codephyt/vaultrelay/internal/scheduler"
	"github.com/codephyt/vaultrelay/internal/stream"
	"github.com/codephyt/vaultrelay/internal/timeline"
	"github.com/codephyt/vaultrelay/internal/vault"
)

// pollJob is the scheduler name of the vault poll.
const pollJob = "vault-poll"

// loadConfig loads the configuration and installs the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Setup(cfg.Relay.LogLevel, cfg.Relay.LogFormat)
	return cfg, nil
}

// loadValidConfig is loadConfig plus the presence check of credentials.
func loadValidConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func openLedger(cfg *config.Config) (*timeline.TimelineService, error) {
	ledger, err := timeline.NewTimelineService(cfg.LedgerPath())
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return ledger, nil
}

// newPublisher returns the Kafka publisher when brokers are configured.
func newPublisher(cfg *config.Config) stream.Publisher {
	if !cfg.Stream.Enabled() {
		return stream.NopPublisher{}
	}
	p, err := stream.NewKafkaPublisher(cfg.Stream.Brokers, cfg.Stream.Topic, streamSecurity(cfg))
	if err != nil {
		slog.Warn("Event stream disabled", "error", err)
		return stream.NopPublisher{}
	}
	slog.Info("Event stream enabled", "brokers", cfg.Stream.Brokers, "topic", cfg.Stream.Topic)
	return p
}

func streamSecurity(cfg *config.Config) stream.Security {
	s := cfg.Stream
	return stream.Security{
		Protocol:  s.SecurityProtocol,
		Mechanism: s.SASLMechanism,
		Username:  s.Username,
		Password:  s.Password,
		CAFile:    s.CAFile,
		CertFile:  s.CertFile,
		KeyFile:   s.KeyFile,
	}
}

// newEngine wires the remote clients into deps.
func newEngine(cfg *config.Config, deps relay.Deps) *relay.Engine {
	deps.Vault = vault.NewClient(cfg.Vault)
	deps.Router = orchestrator.NewClient(cfg.Orchestrator)
	return relay.NewEngine(deps, relay.FromConfig(cfg))
}

func newScheduler(cfg *config.Config, ledger *timeline.TimelineService, poll func(ctx context.Context) error) *scheduler.Scheduler {
	sched := scheduler.New(scheduler.Config{LockDir: cfg.Relay.StateDir}, ledger)
	sched.Register(&scheduler.Job{Name: pollJob, Interval: cfg.Poll.Interval, Run: poll})
	return sched
}

// scheduledPoll is the run-mode poll job: a paused relay is not an error.
func scheduledPoll(engine *relay.Engine) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		err := engine.Poll(ctx)
		if errors.Is(err, relay.ErrPaused) {
			return nil
		}
		return err
	}
}

func pollLockPath(cfg *config.Config) string {
	return filepath.Join(cfg.Relay.StateDir, pollJob+".lock")
}

func transportEnabled(cfg *config.Config) bool {
	switch cfg.Channels.Transport {
	case config.TransportWhatsApp:
		return cfg.Channels.WhatsApp.Enabled
	case config.TransportSlack:
		return cfg.Channels.Slack.Enabled
	}
	return false
}
