package stream

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go/sasl/plain"
)

func TestSecurityPlaintextDefault(t *testing.T) {
	tr, err := Security{}.Transport(time.Second)
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	if tr.TLS != nil || tr.SASL != nil {
		t.Fatalf("expected plain transport, got %+v", tr)
	}
}

func TestSecurityMechanisms(t *testing.T) {
	tests := []struct {
		sec     Security
		wantErr bool
		wantTLS bool
	}{
		{Security{Protocol: "SASL_SSL", Mechanism: "PLAIN", Username: "u", Password: "p"}, false, true},
		{Security{Protocol: "sasl_plaintext", Mechanism: "scram-sha-256", Username: "u", Password: "p"}, false, false},
		{Security{Protocol: "SASL_SSL", Mechanism: "SCRAM-SHA-512", Username: "u", Password: "p"}, false, true},
		{Security{Protocol: "SSL"}, false, true},
		{Security{Protocol: "SASL_SSL"}, true, false},
		{Security{Mechanism: "GSSAPI"}, true, false},
		{Security{Protocol: "QUIC"}, true, false},
		{Security{Protocol: "SSL", CAFile: "/does/not/exist.pem"}, true, false},
	}
	for _, tt := range tests {
		d, err := tt.sec.Dialer(time.Second)
		if (err != nil) != tt.wantErr {
			t.Errorf("%+v: error = %v", tt.sec, err)
			continue
		}
		if err == nil && (d.TLS != nil) != tt.wantTLS {
			t.Errorf("%+v: tls = %v", tt.sec, d.TLS != nil)
		}
	}

	d, _ := Security{Protocol: "SASL_SSL", Mechanism: "PLAIN", Username: "u", Password: "p"}.Dialer(time.Second)
	if m, ok := d.SASLMechanism.(plain.Mechanism); !ok || m.Username != "u" {
		t.Fatalf("unexpected mechanism %#v", d.SASLMechanism)
	}
}

func TestProbeRequiresBrokers(t *testing.T) {
	if _, err := Probe(context.Background(), " ", "t", Security{}); err == nil {
		t.Fatal("expected error without brokers")
	}
}

func TestProbeUnreachableBroker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Probe(ctx, "127.0.0.1:1", "t", Security{}); err == nil {
		t.Fatal("expected dial error")
	}
}
