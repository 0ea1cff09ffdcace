package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config and state directory name.
	ConfigDir = ".vaultrelay"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// legacyEnv maps variable names used by the first relay scripts onto the
// settings they configured. They only apply when the new name is unset.
var legacyEnv = []struct {
	name string
	set  func(*Config, string)
	get  func(*Config) string
}{
	{"VERCEL_API_URL", func(c *Config, v string) { c.Vault.URL = v }, func(c *Config) string { return c.Vault.URL }},
	{"ARES_MASTER_KEY", func(c *Config, v string) { c.Vault.MasterKey = v }, func(c *Config) string { return c.Vault.MasterKey }},
	{"ORCHESTRATOR_URL", func(c *Config, v string) { c.Orchestrator.URL = v }, func(c *Config) string { return c.Orchestrator.URL }},
	{"ARES_SWARM_KEY", func(c *Config, v string) { c.Orchestrator.SharedSecret = v }, func(c *Config) string { return c.Orchestrator.SharedSecret }},
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("RELAY_CONFIG")); explicit != "" {
		return expandHome(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("RELAY_HOME")); h != "" {
		return expandHome(h)
	}
	return os.UserHomeDir()
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, p[1:]), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load process env vars from .env files first.
	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err == nil {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Override with environment variables for each group
	for _, g := range []struct {
		prefix string
		spec   any
	}{
		{"RELAY_VAULT", &cfg.Vault},
		{"RELAY_ORCHESTRATOR", &cfg.Orchestrator},
		{"RELAY_POLL", &cfg.Poll},
		{"RELAY_CHANNEL", &cfg.Channels},
		{"RELAY_WHATSAPP", &cfg.Channels.WhatsApp},
		{"RELAY_SLACK", &cfg.Channels.Slack},
		{"RELAY_OUTBOX", &cfg.Outbox},
		{"RELAY_STREAM", &cfg.Stream},
		{"RELAY", &cfg.Relay},
	} {
		if err := envconfig.Process(g.prefix, g.spec); err != nil {
			return nil, err
		}
	}

	for _, l := range legacyEnv {
		if l.get(cfg) != "" {
			continue
		}
		if v := strings.TrimSpace(os.Getenv(l.name)); v != "" {
			l.set(cfg, v)
		}
	}

	normalize(cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if dir, err := expandHome(cfg.Relay.StateDir); err == nil {
		cfg.Relay.StateDir = dir
	}
	if p, err := expandHome(cfg.Channels.WhatsApp.StorePath); err == nil {
		cfg.Channels.WhatsApp.StorePath = p
	}
	if p, err := expandHome(cfg.Channels.WhatsApp.QRPath); err == nil {
		cfg.Channels.WhatsApp.QRPath = p
	}
	cfg.Channels.Transport = strings.ToLower(strings.TrimSpace(cfg.Channels.Transport))
	if cfg.Channels.Transport == "" {
		cfg.Channels.Transport = TransportWhatsApp
	}
	if strings.TrimSpace(cfg.Orchestrator.KeyHeader) == "" {
		cfg.Orchestrator.KeyHeader = DefaultConfig().Orchestrator.KeyHeader
	}
	if cfg.Outbox.MaxAttempts <= 0 {
		cfg.Outbox.MaxAttempts = 8
	}
	if cfg.Outbox.BatchSize <= 0 {
		cfg.Outbox.BatchSize = 20
	}
	if cfg.Vault.UpdateRetries <= 0 {
		cfg.Vault.UpdateRetries = 1
	}
	if strings.TrimSpace(cfg.Relay.DegradedVaultReply) == "" {
		cfg.Relay.DegradedVaultReply = DefaultDegradedVaultReply
	}
	if strings.TrimSpace(cfg.Relay.DegradedDirectReply) == "" {
		cfg.Relay.DegradedDirectReply = DefaultDegradedDirectReply
	}
	if cfg.Channels.SendRatePerSecond <= 0 {
		cfg.Channels.SendRatePerSecond = 1
	}
}
