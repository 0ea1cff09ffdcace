package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/codephyt/vaultrelay/internal/bus"
	"github.com/codephyt/vaultrelay/internal/config"
	"github.com/codephyt/vaultrelay/internal/media"
	"github.com/codephyt/vaultrelay/internal/timeline"
)

func inbound(content string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:  "whatsapp",
		SenderID: "15550100",
		ChatID:   "15550100@s.whatsapp.net",
		Content:  content,
	}
}

func TestHandleDirectReplies(t *testing.T) {
	h := newHarness(t)
	h.orch.replies["What is the price?"] = `{"reply":"It is 10"}`

	if err := h.engine.HandleDirect(context.Background(), inbound("What is the price?")); err != nil {
		t.Fatalf("HandleDirect: %v", err)
	}
	if len(h.sender.sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(h.sender.sent))
	}
	out := h.sender.sent[0]
	if out.Content != "It is 10" || out.ChatID != "15550100@s.whatsapp.net" || out.Channel != "whatsapp" {
		t.Errorf("unexpected reply: %+v", out)
	}
	if out.Attachment != nil {
		t.Errorf("expected no attachment")
	}
	call := h.orch.calls[0]
	if call["email"] != "15550100" || call["intent"] != "GENERAL" {
		t.Errorf("expected sender as identifier, got %v", call)
	}

	events, _ := h.ledger.GetEvents(timeline.FilterArgs{Path: timeline.PathDirect})
	if len(events) != 3 || events[0].Stage != StageSent {
		t.Errorf("expected received/routed/sent events, got %+v", events)
	}
}

func TestHandleDirectIgnoresGroupsAndEmptyText(t *testing.T) {
	h := newHarness(t)
	group := inbound("hello all")
	group.IsGroup = true

	for _, msg := range []bus.InboundMessage{group, inbound("   ")} {
		if err := h.engine.HandleDirect(context.Background(), msg); err != nil {
			t.Fatalf("HandleDirect: %v", err)
		}
	}
	if h.orch.callCount() != 0 || len(h.sender.sent) != 0 {
		t.Errorf("expected no routing and no reply, got %d calls and %d replies", h.orch.callCount(), len(h.sender.sent))
	}
}

func TestHandleDirectDegradesOnRoutingFailure(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.HandleDirect(context.Background(), inbound("anyone?")); err != nil {
		t.Fatalf("HandleDirect: %v", err)
	}
	if len(h.sender.sent) != 1 || h.sender.sent[0].Content != config.DefaultDegradedDirectReply {
		t.Fatalf("expected degraded reply, got %+v", h.sender.sent)
	}
}

func TestHandleDirectSendsAttachmentWithCaption(t *testing.T) {
	h := newHarness(t)
	h.orch.replies["brochure"] = `{"reply":"See attached","media_name":"brochure.pdf","media_base64":"` + pdfBase64 + `"}`

	if err := h.engine.HandleDirect(context.Background(), inbound("brochure")); err != nil {
		t.Fatalf("HandleDirect: %v", err)
	}
	att := h.sender.sent[0].Attachment
	if att == nil {
		t.Fatal("expected attachment")
	}
	if att.FileName != "brochure.pdf" || att.MimeType != "application/pdf" || att.Caption != "See attached" {
		t.Errorf("unexpected attachment: %s %s %q", att.FileName, att.MimeType, att.Caption)
	}
	if att.Kind() != media.KindDocument || string(att.Data) != "%PDF-1.4" {
		t.Errorf("unexpected attachment data")
	}
}

func TestHandleDirectSendsTextWhenMediaInvalid(t *testing.T) {
	h := newHarness(t)
	h.orch.replies["brochure"] = `{"reply":"See attached","media_name":"brochure.pdf","media_base64":"%%%"}`

	if err := h.engine.HandleDirect(context.Background(), inbound("brochure")); err != nil {
		t.Fatalf("HandleDirect: %v", err)
	}
	if out := h.sender.sent[0]; out.Attachment != nil || out.Content != "See attached" {
		t.Errorf("expected text-only reply, got %+v", out)
	}
}

func TestHandleDirectReturnsSendError(t *testing.T) {
	h := newHarness(t)
	h.orch.replies["hi"] = `{"reply":"hey"}`
	h.sender.err = errors.New("not connected")

	if err := h.engine.HandleDirect(context.Background(), inbound("hi")); err == nil {
		t.Fatal("expected send error")
	}
	events, _ := h.ledger.GetEvents(timeline.FilterArgs{Path: timeline.PathDirect, Stage: StageFailed})
	if len(events) != 1 {
		t.Errorf("expected failed event, got %d", len(events))
	}
}

func TestRunAnswersThroughBus(t *testing.T) {
	h := newHarness(t)
	h.orch.replies["ping"] = `{"reply":"pong"}`
	b := bus.NewMessageBus()
	h.engine.deps.Inbound = b
	h.engine.deps.Sender = b

	got := make(chan *bus.OutboundMessage, 1)
	b.Subscribe("whatsapp", func(_ context.Context, msg *bus.OutboundMessage) error {
		got <- msg
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.DispatchOutbound(ctx) }()
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	msg := inbound("ping")
	if err := b.PublishInbound(ctx, &msg); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { return len(got) == 1 })
	if out := <-got; out.Content != "pong" {
		t.Errorf("expected pong, got %q", out.Content)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRunRequiresInbound(t *testing.T) {
	e := NewEngine(Deps{})
	if err := e.Run(context.Background()); err == nil {
		t.Fatal("expected error without inbound source")
	}
}
