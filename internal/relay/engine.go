// Package relay ties the vault, the orchestrator and the chat transport
// together: the poll cycle for vault tasks, the durable completion outbox
// and the low-latency direct message path.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codephyt/vaultrelay/internal/bus"
	"github.com/codephyt/vaultrelay/internal/config"
	"github.com/codephyt/vaultrelay/internal/metrics"
	"github.com/codephyt/vaultrelay/internal/orchestrator"
	"github.com/codephyt/vaultrelay/internal/stream"
	"github.com/codephyt/vaultrelay/internal/timeline"
	"github.com/codephyt/vaultrelay/internal/vault"
)

// TaskSource is the vault side of the polling path.
type TaskSource interface {
	FetchPending(ctx context.Context) (vault.Listing, error)
	PostCompletion(ctx context.Context, comp vault.Completion) (vault.Ack, error)
}

// Router produces replies.
type Router interface {
	Route(ctx context.Context, text, identifier string, intent orchestrator.Intent) (*orchestrator.Reply, error)
}

// Sender delivers direct replies to the chat transport.
type Sender interface {
	Send(ctx context.Context, msg *bus.OutboundMessage) error
}

// Inbound yields direct messages published by the transports.
type Inbound interface {
	ConsumeInbound(ctx context.Context) (*bus.InboundMessage, error)
}

// Ledger is the durable state the engine relies on.
type Ledger interface {
	AddEvent(evt *timeline.Event) error
	IsPaused() bool
	EnqueueCompletion(messageID, traceID, payload string) error
	ListDueCompletions(limit int) ([]timeline.OutboxEntry, error)
	HasQueuedCompletion(messageID string) (bool, error)
	MarkCompletionDelivered(messageID string) error
	MarkCompletionAttempt(messageID, lastError string, nextAt time.Time) error
	MarkCompletionFailed(messageID, lastError string) error
	CountCompletions() (map[string]int, error)
}

// Deps are the engine's collaborators. Ledger, Publisher, Inbound and
// Metrics are optional.
type Deps struct {
	Vault     TaskSource
	Router    Router
	Sender    Sender
	Inbound   Inbound
	Ledger    Ledger
	Publisher stream.Publisher
	Metrics   *metrics.Metrics
}

// Option customises an Engine.
type Option func(*Engine)

// WithDegradedReplies overrides the fallback texts. Empty values keep the
// defaults.
func WithDegradedReplies(vaultReply, directReply string) Option {
	return func(e *Engine) {
		if vaultReply != "" {
			e.degradedVault = vaultReply
		}
		if directReply != "" {
			e.degradedDirect = directReply
		}
	}
}

// WithOutbox sets the outbox attempt limit and flush batch size.
func WithOutbox(maxAttempts, batchSize int) Option {
	return func(e *Engine) {
		if maxAttempts > 0 {
			e.maxAttempts = maxAttempts
		}
		if batchSize > 0 {
			e.batchSize = batchSize
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// FromConfig applies the relay and outbox settings of cfg.
func FromConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		WithDegradedReplies(cfg.Relay.DegradedVaultReply, cfg.Relay.DegradedDirectReply)(e)
		WithOutbox(cfg.Outbox.MaxAttempts, cfg.Outbox.BatchSize)(e)
	}
}

// Engine runs both relay paths.
type Engine struct {
	deps           Deps
	degradedVault  string
	degradedDirect string
	maxAttempts    int
	batchSize      int
	now            func() time.Time

	mu   sync.RWMutex
	last *PollCycle
}

// NewEngine creates an engine.
func NewEngine(deps Deps, opts ...Option) *Engine {
	if deps.Publisher == nil {
		deps.Publisher = stream.NopPublisher{}
	}
	e := &Engine{
		deps:           deps,
		degradedVault:  config.DefaultDegradedVaultReply,
		degradedDirect: config.DefaultDegradedDirectReply,
		maxAttempts:    8,
		batchSize:      20,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LastCycle returns a copy of the most recent finished cycle, or nil.
func (e *Engine) LastCycle() *PollCycle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return nil
	}
	c := *e.last
	return &c
}

func (e *Engine) setLast(c *PollCycle) {
	e.mu.Lock()
	e.last = c
	e.mu.Unlock()
}

// stageEvent is one observation written to the ledger and the stream.
type stageEvent struct {
	traceID   string
	messageID string
	sender    string
	path      string
	stage     string
	content   string
	detail    string
}

// record persists and publishes a stage. Both sinks are best-effort.
func (e *Engine) record(ctx context.Context, ev stageEvent) {
	at := e.now()
	if e.deps.Ledger != nil {
		err := e.deps.Ledger.AddEvent(&timeline.Event{
			TraceID:   ev.traceID,
			MessageID: ev.messageID,
			Path:      ev.path,
			Stage:     ev.stage,
			Sender:    ev.sender,
			Content:   ev.content,
			Detail:    ev.detail,
			CreatedAt: at,
		})
		if err != nil {
			slog.Debug("Ledger event not recorded", "stage", ev.stage, "error", err)
		}
	}
	typ := stream.TypeTask
	if ev.path == timeline.PathDirect {
		typ = stream.TypeDirect
	}
	err := e.deps.Publisher.Publish(ctx, stream.Event{
		Type:      typ,
		TraceID:   ev.traceID,
		MessageID: ev.messageID,
		Sender:    ev.sender,
		Path:      ev.path,
		Stage:     ev.stage,
		Detail:    ev.detail,
		At:        at,
	})
	if err != nil {
		slog.Debug("Stream event not published", "stage", ev.stage, "error", err)
	}
}

func (e *Engine) route(ctx context.Context, text, identifier string) (*orchestrator.Reply, error) {
	start := time.Now()
	defer e.deps.Metrics.ObserveRemote("orchestrator", start)
	return e.deps.Router.Route(ctx, text, identifier, orchestrator.IntentGeneral)
}
