package stream

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// Security holds the broker connection settings. The zero value is
// PLAINTEXT without authentication.
type Security struct {
	Protocol  string // PLAINTEXT, SSL, SASL_PLAINTEXT, SASL_SSL
	Mechanism string // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string
	Password  string
	CAFile    string
	CertFile  string
	KeyFile   string
}

func (s Security) protocol() string {
	p := strings.ToUpper(strings.TrimSpace(s.Protocol))
	if p == "" {
		return "PLAINTEXT"
	}
	return p
}

// tlsConfig returns nil unless the protocol asks for TLS.
func (s Security) tlsConfig() (*tls.Config, error) {
	switch s.protocol() {
	case "SSL", "SASL_SSL":
	case "PLAINTEXT", "SASL_PLAINTEXT":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported security protocol: %s", s.Protocol)
	}

	conf := &tls.Config{MinVersion: tls.VersionTLS12}
	if s.CAFile != "" {
		pem, err := os.ReadFile(s.CAFile)
		if err != nil {
			return nil, fmt.Errorf("load CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("bad CA PEM")
		}
		conf.RootCAs = pool
	}
	if s.CertFile != "" && s.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}
	return conf, nil
}

// mechanism returns nil when no SASL is configured.
func (s Security) mechanism() (sasl.Mechanism, error) {
	mech := strings.ToUpper(strings.TrimSpace(s.Mechanism))
	switch mech {
	case "":
		if strings.HasPrefix(s.protocol(), "SASL_") {
			return nil, fmt.Errorf("missing sasl mechanism for security protocol %s", s.protocol())
		}
		return nil, nil
	case "PLAIN":
		return plain.Mechanism{Username: s.Username, Password: s.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, s.Username, s.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, s.Username, s.Password)
	default:
		return nil, fmt.Errorf("unsupported sasl mechanism: %s", s.Mechanism)
	}
}

// Transport builds the writer transport.
func (s Security) Transport(timeout time.Duration) (*kafka.Transport, error) {
	tlsConf, err := s.tlsConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}
	mech, err := s.mechanism()
	if err != nil {
		return nil, fmt.Errorf("sasl config: %w", err)
	}
	return &kafka.Transport{TLS: tlsConf, SASL: mech, DialTimeout: timeout}, nil
}

// Dialer builds a dialer for direct broker connections.
func (s Security) Dialer(timeout time.Duration) (*kafka.Dialer, error) {
	tlsConf, err := s.tlsConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}
	mech, err := s.mechanism()
	if err != nil {
		return nil, fmt.Errorf("sasl config: %w", err)
	}
	return &kafka.Dialer{Timeout: timeout, DualStack: true, TLS: tlsConf, SASLMechanism: mech}, nil
}
