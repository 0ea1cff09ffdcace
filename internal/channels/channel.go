// Package channels holds the live chat transports that feed the direct
// path: WhatsApp through whatsmeow and Slack through Socket Mode.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/codephyt/vaultrelay/internal/bus"
	"github.com/codephyt/vaultrelay/internal/config"
)

// Channel defines the interface for chat platforms.
type Channel interface {
	// Name returns the channel name (e.g. "whatsapp").
	Name() string
	// Start connects and begins publishing inbound messages.
	Start(ctx context.Context) error
	// Stop disconnects.
	Stop() error
	// Send delivers a message to a specific chat.
	Send(ctx context.Context, msg *bus.OutboundMessage) error
	// Ready is closed once the transport is connected.
	Ready() <-chan struct{}
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus *bus.MessageBus

	limiter   *rate.Limiter
	ready     chan struct{}
	readyOnce sync.Once
}

// Ready is closed once the transport is connected.
func (b *BaseChannel) Ready() <-chan struct{} { return b.ready }

func (b *BaseChannel) markReady() {
	b.readyOnce.Do(func() { close(b.ready) })
}

// throttle waits for the send limiter. A nil limiter never waits.
func (b *BaseChannel) throttle(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}

// publish hands a message to the engine without blocking the transport's
// event loop for long.
func (b *BaseChannel) publish(msg *bus.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Bus.PublishInbound(ctx, msg); err != nil {
		slog.Warn("Inbound message dropped", "channel", msg.Channel, "sender", msg.SenderID, "error", err)
	}
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// New returns the transport selected by cfg.
func New(cfg *config.Config, messageBus *bus.MessageBus) (Channel, error) {
	switch cfg.Channels.Transport {
	case config.TransportWhatsApp:
		return NewWhatsAppChannel(cfg, messageBus), nil
	case config.TransportSlack:
		return NewSlackChannel(cfg, messageBus), nil
	default:
		return nil, fmt.Errorf("unknown chat transport %q", cfg.Channels.Transport)
	}
}
