// Package stream publishes relay lifecycle events to Kafka so other
// systems can follow what the relay does without polling its ledger.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event types.
const (
	TypeTask   = "relay.task"
	TypeDirect = "relay.direct"
	TypeCycle  = "relay.cycle"
)

// Event is one lifecycle record.
type Event struct {
	Type      string    `json:"type"`
	TraceID   string    `json:"trace_id"`
	MessageID string    `json:"message_id,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Path      string    `json:"path"`
	Stage     string    `json:"stage"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// key picks the partition key: the vault message id, else the sender.
func (e Event) key() string {
	if e.MessageID != "" {
		return e.MessageID
	}
	if e.Sender != "" {
		return e.Sender
	}
	return e.TraceID
}

// Publisher emits events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to one topic.
type KafkaPublisher struct {
	w       messageWriter
	topic   string
	timeout time.Duration
}

// NewKafkaPublisher creates a publisher for a comma separated broker list.
func NewKafkaPublisher(brokers, topic string, sec Security) (*KafkaPublisher, error) {
	addrs := splitBrokers(brokers)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("stream: no brokers configured")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("stream: topic is required")
	}
	transport, err := sec.Transport(10 * time.Second)
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: true,
		Transport:              transport,
	}
	return &KafkaPublisher{w: w, topic: topic, timeout: 5 * time.Second}, nil
}

func splitBrokers(brokers string) []string {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	return addrs
}

// Probe dials the brokers in order and reads the topic's partitions from
// the first one that answers. A missing topic is not an error when the
// broker creates topics on first write.
func Probe(ctx context.Context, brokers, topic string, sec Security) (int, error) {
	addrs := splitBrokers(brokers)
	if len(addrs) == 0 {
		return 0, fmt.Errorf("stream: no brokers configured")
	}
	dialer, err := sec.Dialer(8 * time.Second)
	if err != nil {
		return 0, fmt.Errorf("stream: %w", err)
	}
	var lastErr error
	for _, addr := range addrs {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = fmt.Errorf("dial %s: %w", addr, err)
			continue
		}
		parts, err := conn.ReadPartitions(topic)
		conn.Close()
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			return 0, nil
		}
		if err != nil {
			lastErr = fmt.Errorf("read partitions from %s: %w", addr, err)
			continue
		}
		return len(parts), nil
	}
	return 0, fmt.Errorf("stream: %w", lastErr)
}

// Publish writes one event. The write is bounded so a down broker never
// holds up routing for long.
func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("stream: marshal: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = p.w.WriteMessages(writeCtx, kafka.Message{
		Key:     []byte(evt.key()),
		Value:   data,
		Headers: []kafka.Header{{Key: "type", Value: []byte(evt.Type)}},
		Time:    evt.At,
	})
	if err != nil {
		return fmt.Errorf("stream: write %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }
