// Package config provides configuration types and loading for vaultrelay.
package config

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration struct.
// Top-level groups: Vault, Orchestrator, Poll, Channels, Outbox, Stream, Relay.
type Config struct {
	Vault        VaultConfig        `json:"vault"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Poll         PollConfig         `json:"poll"`
	Channels     ChannelsConfig     `json:"channels"`
	Outbox       OutboxConfig       `json:"outbox"`
	Stream       StreamConfig       `json:"stream"`
	Relay        RelayConfig        `json:"relay"`
}

// ---------------------------------------------------------------------------
// Vault – web-facing inbound buffer
// ---------------------------------------------------------------------------

// VaultConfig configures the vault sync endpoint.
type VaultConfig struct {
	URL           string        `json:"url" envconfig:"URL"`
	MasterKey     string        `json:"masterKey" envconfig:"MASTER_KEY"`
	Timeout       time.Duration `json:"timeout" envconfig:"TIMEOUT"`
	UpdateRetries int           `json:"updateRetries" envconfig:"UPDATE_RETRIES"`
	UpdateBackoff time.Duration `json:"updateBackoff" envconfig:"UPDATE_BACKOFF"`
}

// ---------------------------------------------------------------------------
// Orchestrator – local reasoning service
// ---------------------------------------------------------------------------

// OrchestratorConfig configures the reasoning service endpoint.
type OrchestratorConfig struct {
	URL          string        `json:"url" envconfig:"URL"`
	SharedSecret string        `json:"sharedSecret" envconfig:"SHARED_SECRET"`
	KeyHeader    string        `json:"keyHeader" envconfig:"KEY_HEADER"`
	Timeout      time.Duration `json:"timeout" envconfig:"TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Poll – vault polling schedule
// ---------------------------------------------------------------------------

// PollConfig controls the vault poll job.
type PollConfig struct {
	Enabled  bool          `json:"enabled" envconfig:"ENABLED"`
	Interval time.Duration `json:"interval" envconfig:"INTERVAL"`
}

// ---------------------------------------------------------------------------
// Channels – live chat transports
// ---------------------------------------------------------------------------

// ChannelsConfig selects and configures the chat transport.
type ChannelsConfig struct {
	Transport         string         `json:"transport" envconfig:"TRANSPORT"` // "whatsapp" or "slack"
	SendRatePerSecond float64        `json:"sendRatePerSecond" envconfig:"SEND_RATE"`
	WhatsApp          WhatsAppConfig `json:"whatsapp" ignored:"true"`
	Slack             SlackConfig    `json:"slack" ignored:"true"`
}

// WhatsAppConfig configures the WhatsApp transport.
type WhatsAppConfig struct {
	Enabled         bool   `json:"enabled" envconfig:"ENABLED"`
	StorePath       string `json:"storePath" envconfig:"STORE_PATH"`
	QRPath          string `json:"qrPath" envconfig:"QR_PATH"`
	IgnoreReactions bool   `json:"ignoreReactions" envconfig:"IGNORE_REACTIONS"`
}

// SlackConfig configures the Slack Socket Mode transport.
type SlackConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"ENABLED"`
	BotToken string `json:"botToken" envconfig:"BOT_TOKEN"`
	AppToken string `json:"appToken" envconfig:"APP_TOKEN"`
	APIBase  string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// ---------------------------------------------------------------------------
// Outbox – durable retry of vault updates
// ---------------------------------------------------------------------------

// OutboxConfig bounds the completion outbox.
type OutboxConfig struct {
	MaxAttempts int `json:"maxAttempts" envconfig:"MAX_ATTEMPTS"`
	BatchSize   int `json:"batchSize" envconfig:"BATCH_SIZE"`
}

// ---------------------------------------------------------------------------
// Stream – relay lifecycle events on Kafka
// ---------------------------------------------------------------------------

// StreamConfig configures the optional Kafka event stream.
type StreamConfig struct {
	Brokers string `json:"brokers" envconfig:"BROKERS"`
	Topic   string `json:"topic" envconfig:"TOPIC"`

	// SecurityProtocol is PLAINTEXT, SSL, SASL_PLAINTEXT or SASL_SSL.
	SecurityProtocol string `json:"securityProtocol,omitempty" envconfig:"SECURITY_PROTOCOL"`
	// SASLMechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	SASLMechanism string `json:"saslMechanism,omitempty" envconfig:"SASL_MECHANISM"`
	Username      string `json:"username,omitempty" envconfig:"USERNAME"`
	Password      string `json:"password,omitempty" envconfig:"PASSWORD"`
	CAFile        string `json:"caFile,omitempty" envconfig:"CA_FILE"`
	CertFile      string `json:"certFile,omitempty" envconfig:"CERT_FILE"`
	KeyFile       string `json:"keyFile,omitempty" envconfig:"KEY_FILE"`
}

// Enabled reports whether brokers are configured.
func (s StreamConfig) Enabled() bool { return strings.TrimSpace(s.Brokers) != "" }

// ---------------------------------------------------------------------------
// Relay – process-level settings
// ---------------------------------------------------------------------------

// RelayConfig holds process-wide settings.
type RelayConfig struct {
	StateDir            string `json:"stateDir" envconfig:"STATE_DIR"`
	StatusAddr          string `json:"statusAddr" envconfig:"STATUS_ADDR"`
	LogLevel            string `json:"logLevel" envconfig:"LOG_LEVEL"`
	LogFormat           string `json:"logFormat" envconfig:"LOG_FORMAT"`
	DegradedVaultReply  string `json:"degradedVaultReply" envconfig:"DEGRADED_VAULT_REPLY"`
	DegradedDirectReply string `json:"degradedDirectReply" envconfig:"DEGRADED_DIRECT_REPLY"`
}

const (
	TransportWhatsApp = "whatsapp"
	TransportSlack    = "slack"

	DefaultDegradedVaultReply  = "Command is temporarily offline. Your inquiry is safe in the vault. We will respond soon."
	DefaultDegradedDirectReply = "Command is temporarily offline. I will respond to your query shortly."
)

// DefaultConfig returns a Config with sensible defaults.
// Credentials and endpoints have no defaults and must come from the environment.
func DefaultConfig() *Config {
	return &Config{
		Vault: VaultConfig{
			Timeout:       20 * time.Second,
			UpdateRetries: 3,
			UpdateBackoff: 500 * time.Millisecond,
		},
		Orchestrator: OrchestratorConfig{
			KeyHeader: "x-swarm-key",
			Timeout:   90 * time.Second,
		},
		Poll: PollConfig{
			Enabled:  true,
			Interval: 10 * time.Second,
		},
		Channels: ChannelsConfig{
			Transport:         TransportWhatsApp,
			SendRatePerSecond: 1,
			WhatsApp: WhatsAppConfig{
				Enabled:         true,
				IgnoreReactions: true,
			},
		},
		Outbox: OutboxConfig{
			MaxAttempts: 8,
			BatchSize:   20,
		},
		Stream: StreamConfig{
			Topic: "vaultrelay.events",
		},
		Relay: RelayConfig{
			StateDir:            "~/" + ConfigDir,
			StatusAddr:          "127.0.0.1:18795",
			LogLevel:            "info",
			LogFormat:           "text",
			DegradedVaultReply:  DefaultDegradedVaultReply,
			DegradedDirectReply: DefaultDegradedDirectReply,
		},
	}
}

// Validate checks that the externally supplied settings are present.
// Values are not format-checked.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Vault.URL) == "" {
		errs = append(errs, errors.New("vault url is required (RELAY_VAULT_URL)"))
	}
	if strings.TrimSpace(c.Vault.MasterKey) == "" {
		errs = append(errs, errors.New("vault master key is required (RELAY_VAULT_MASTER_KEY)"))
	}
	if strings.TrimSpace(c.Orchestrator.URL) == "" {
		errs = append(errs, errors.New("orchestrator url is required (RELAY_ORCHESTRATOR_URL)"))
	}
	if strings.TrimSpace(c.Orchestrator.SharedSecret) == "" {
		errs = append(errs, errors.New("orchestrator shared secret is required (RELAY_ORCHESTRATOR_SHARED_SECRET)"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive (RELAY_POLL_INTERVAL)"))
	}
	switch c.Channels.Transport {
	case TransportWhatsApp, TransportSlack:
	default:
		errs = append(errs, errors.New("unknown chat transport "+c.Channels.Transport+" (RELAY_CHANNEL_TRANSPORT)"))
	}
	return errors.Join(errs...)
}

// StatePath returns a file path inside the state directory.
func (c *Config) StatePath(name string) string {
	return filepath.Join(c.Relay.StateDir, name)
}

// LedgerPath is the SQLite ledger location.
func (c *Config) LedgerPath() string { return c.StatePath("relay.db") }

// WhatsAppStorePath is the whatsmeow device store location.
func (c *Config) WhatsAppStorePath() string {
	if p := strings.TrimSpace(c.Channels.WhatsApp.StorePath); p != "" {
		return p
	}
	return c.StatePath("whatsapp.db")
}

// WhatsAppQRPath is where the pairing QR image is written.
func (c *Config) WhatsAppQRPath() string {
	if p := strings.TrimSpace(c.Channels.WhatsApp.QRPath); p != "" {
		return p
	}
	return c.StatePath("whatsapp-qr.png")
}
