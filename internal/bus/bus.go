// Package bus provides the async message bus between chat transports and
// the relay engine.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codephyt/vaultrelay/internal/media"
)

// InboundMessage is a direct message received by a chat transport.
type InboundMessage struct {
	Channel   string    `json:"channel"`
	SenderID  string    `json:"sender_id"`
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	TraceID   string    `json:"trace_id"`
	Content   string    `json:"content"`
	IsGroup   bool      `json:"is_group"`
	Timestamp time.Time `json:"timestamp"`
}

// OutboundMessage is a reply for a chat transport. When Attachment is set,
// Content is sent as its caption.
type OutboundMessage struct {
	Channel    string            `json:"channel"`
	ChatID     string            `json:"chat_id"`
	TraceID    string            `json:"trace_id"`
	Content    string            `json:"content"`
	Attachment *media.Attachment `json:"-"`

	done chan error
}

// Handler delivers one outbound message.
type Handler func(ctx context.Context, msg *OutboundMessage) error

// MessageBus decouples transports from the relay engine.
type MessageBus struct {
	inbound  chan *InboundMessage
	outbound chan *OutboundMessage
	subs     map[string][]Handler
	running  bool
	mu       sync.RWMutex
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan *InboundMessage, 100),
		outbound: make(chan *OutboundMessage, 100),
		subs:     make(map[string][]Handler),
	}
}

// PublishInbound queues a message for the engine. It waits for room in the
// queue until ctx ends.
func (b *MessageBus) PublishInbound(ctx context.Context, msg *InboundMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound blocks until a message is available or context is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishOutbound queues a reply for the transports without waiting for
// delivery.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg *OutboundMessage) error {
	select {
	case b.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send queues a reply and waits until the subscribed transport has
// delivered it (or failed to).
func (b *MessageBus) Send(ctx context.Context, msg *OutboundMessage) error {
	msg.done = make(chan error, 1)
	if err := b.PublishOutbound(ctx, msg); err != nil {
		return err
	}
	select {
	case err := <-msg.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a handler for outbound messages to a specific channel.
func (b *MessageBus) Subscribe(channel string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[channel] = append(b.subs[channel], h)
}

// DispatchOutbound runs the outbound message dispatcher.
// This should be run as a goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	b.mu.Lock()
	b.running = true
	b.mu.Unlock()
	defer b.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.outbound:
			b.mu.RLock()
			handlers := b.subs[msg.Channel]
			b.mu.RUnlock()

			// Each delivery runs on its own so a slow upload never holds up
			// replies to other chats.
			go deliver(ctx, msg, handlers)
		}
	}
}

func deliver(ctx context.Context, msg *OutboundMessage, handlers []Handler) {
	var err error
	if len(handlers) == 0 {
		err = fmt.Errorf("no transport subscribed to channel %q", msg.Channel)
	}
	for _, h := range handlers {
		if herr := h(ctx, msg); herr != nil {
			err = herr
		}
	}
	if msg.done != nil {
		msg.done <- err
	}
}

// Stop marks the dispatcher as stopped.
func (b *MessageBus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
}

// Running reports whether DispatchOutbound is active.
func (b *MessageBus) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}

// OutboundSize returns the number of pending outbound messages.
func (b *MessageBus) OutboundSize() int {
	return len(b.outbound)
}
