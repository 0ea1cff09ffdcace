package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/codephyt/vaultrelay/internal/bus"
	"github.com/codephyt/vaultrelay/internal/media"
	"github.com/codephyt/vaultrelay/internal/remote"
	"github.com/codephyt/vaultrelay/internal/timeline"
)

// HandleDirect answers one chat message. Group messages and empty texts
// are ignored without contacting the orchestrator. A routing failure is
// answered with the degraded direct reply. The returned error is the send
// error, if any.
func (e *Engine) HandleDirect(ctx context.Context, msg bus.InboundMessage) error {
	if msg.IsGroup || strings.TrimSpace(msg.Content) == "" {
		e.deps.Metrics.Direct("ignored")
		return nil
	}
	traceID := msg.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	base := stageEvent{traceID: traceID, sender: msg.SenderID, path: timeline.PathDirect}
	ev := base
	ev.stage, ev.content = StageReceived, msg.Content
	e.record(ctx, ev)

	chatID := msg.ChatID
	if chatID == "" {
		chatID = msg.SenderID
	}
	out := &bus.OutboundMessage{Channel: msg.Channel, ChatID: chatID, TraceID: traceID}

	outcome := "replied"
	reply, err := e.route(ctx, msg.Content, msg.SenderID)
	if err == nil && strings.TrimSpace(reply.Content) == "" {
		err = errEmptyReply
	}
	if err != nil {
		slog.Warn("Direct routing failed, sending degraded reply",
			"channel", msg.Channel, "sender", msg.SenderID, "trace", traceID, "kind", remote.Kind(err), "error", err)
		out.Content = e.degradedDirect
		outcome = "degraded"
		ev = base
		ev.stage, ev.detail = StageDegraded, err.Error()
		e.record(ctx, ev)
	} else {
		out.Content = reply.Content
		if att := reply.Attachment; att != nil && media.Present(att.Name, att.Base64) {
			built, err := media.BuildAttachment(att.Name, att.Base64, reply.Content)
			if err != nil {
				slog.Warn("Dropping invalid attachment", "sender", msg.SenderID, "trace", traceID, "error", err)
			} else {
				out.Attachment = built
			}
		}
		ev = base
		ev.stage, ev.content = StageRouted, reply.Content
		e.record(ctx, ev)
	}

	if err := e.deps.Sender.Send(ctx, out); err != nil {
		e.deps.Metrics.Direct("send_failed")
		ev = base
		ev.stage, ev.detail = StageFailed, err.Error()
		e.record(ctx, ev)
		slog.Error("Direct reply not sent", "channel", msg.Channel, "chat", chatID, "trace", traceID, "error", err)
		return err
	}
	e.deps.Metrics.Direct(outcome)
	ev = base
	ev.stage = StageSent
	if out.Attachment != nil {
		ev.detail = "attachment " + out.Attachment.FileName
	}
	e.record(ctx, ev)
	return nil
}

// Run consumes inbound chat messages until ctx is done. Each message is
// handled on its own goroutine so a slow orchestrator call does not hold
// up other senders.
func (e *Engine) Run(ctx context.Context) error {
	if e.deps.Inbound == nil {
		return errors.New("relay: no inbound source configured")
	}
	slog.Info("Direct path started")
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		msg, err := e.deps.Inbound.ConsumeInbound(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if msg == nil {
			continue
		}
		m := *msg
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.HandleDirect(ctx, m)
		}()
	}
}
