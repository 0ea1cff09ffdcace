package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/codephyt/vaultrelay/internal/bus"
	"github.com/codephyt/vaultrelay/internal/config"
)

func newTestSlack(t *testing.T, apiBase string) *SlackChannel {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Channels.Transport = config.TransportSlack
	cfg.Channels.SendRatePerSecond = 0
	cfg.Channels.Slack = config.SlackConfig{Enabled: true, BotToken: "xoxb-test", AppToken: "xapp-test", APIBase: apiBase}
	return NewSlackChannel(cfg, bus.NewMessageBus())
}

func TestSlackInboundDirectMessage(t *testing.T) {
	msg, ok := inboundFromSlack(&slackevents.MessageEvent{
		User:        "U123",
		Channel:     "D456",
		ChannelType: "im",
		Text:        "what is the price?",
		TimeStamp:   "1700000000.000100",
	}, "UBOT")
	if !ok {
		t.Fatal("expected direct message to be accepted")
	}
	if msg.SenderID != "U123" || msg.ChatID != "D456" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.TraceID == "" || msg.MessageID != "1700000000.000100" {
		t.Errorf("expected trace and message ids, got %+v", msg)
	}
}

func TestSlackInboundFilters(t *testing.T) {
	cases := map[string]*slackevents.MessageEvent{
		"bot":     {User: "U1", BotID: "B1", Channel: "D1", ChannelType: "im", Text: "hi"},
		"self":    {User: "UBOT", Channel: "D1", ChannelType: "im", Text: "hi"},
		"edit":    {User: "U1", SubType: "message_changed", Channel: "D1", ChannelType: "im", Text: "hi"},
		"empty":   {User: "U1", Channel: "D1", ChannelType: "im", Text: "  "},
		"no user": {Channel: "D1", ChannelType: "im", Text: "hi"},
		"channel": {User: "U1", Channel: "C1", ChannelType: "channel", Text: "hi all"},
		"mpim":    {User: "U1", Channel: "G1", ChannelType: "mpim", Text: "hi all"},
	}
	for name, ev := range cases {
		if _, ok := inboundFromSlack(ev, "UBOT"); ok {
			t.Errorf("%s: expected drop", name)
		}
	}
}

func TestSlackSendPostsMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		got = map[string]string{
			"channel": r.FormValue("channel"),
			"text":    r.FormValue("text"),
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": "D456", "ts": "1.0"})
	}))
	defer srv.Close()

	sc := newTestSlack(t, srv.URL)
	err := sc.Send(context.Background(), &bus.OutboundMessage{Channel: "slack", ChatID: "D456", Content: "It is 10"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["channel"] != "D456" || got["text"] != "It is 10" {
		t.Errorf("unexpected request: %v", got)
	}
}

func TestSlackSendReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))
	defer srv.Close()

	sc := newTestSlack(t, srv.URL)
	if err := sc.Send(context.Background(), &bus.OutboundMessage{ChatID: "D0", Content: "x"}); err == nil {
		t.Fatal("expected api error")
	}
}

func TestSlackSendRequiresToken(t *testing.T) {
	sc := newTestSlack(t, "")
	sc.config.BotToken = ""
	if err := sc.Send(context.Background(), &bus.OutboundMessage{ChatID: "D1", Content: "x"}); err == nil {
		t.Fatal("expected missing token error")
	}
}

func TestSlackHandleOutboundRetriesRateLimit(t *testing.T) {
	sc := newTestSlack(t, "")
	var calls int32
	sc.sendFn = func(ctx context.Context, msg *bus.OutboundMessage) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return &slack.RateLimitedError{RetryAfter: 10 * time.Millisecond}
		}
		return nil
	}
	if err := sc.handleOutbound(context.Background(), &bus.OutboundMessage{ChatID: "D1", Content: "x"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected two attempts, got %d", calls)
	}
}

func TestSlackStartDisabledIsNoop(t *testing.T) {
	sc := newTestSlack(t, "")
	sc.config.Enabled = false
	if err := sc.Start(context.Background()); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestSlackStartRequiresAppToken(t *testing.T) {
	sc := newTestSlack(t, "")
	sc.config.AppToken = ""
	if err := sc.Start(context.Background()); err == nil {
		t.Fatal("expected missing app token error")
	}
}

func TestNewSelectsTransport(t *testing.T) {
	cfg := config.DefaultConfig()
	b := bus.NewMessageBus()

	ch, err := New(cfg, b)
	if err != nil || ch.Name() != "whatsapp" {
		t.Fatalf("expected whatsapp channel, got %v (%v)", ch, err)
	}
	cfg.Channels.Transport = config.TransportSlack
	if ch, _ := New(cfg, b); ch.Name() != "slack" {
		t.Errorf("expected slack channel, got %s", ch.Name())
	}
	cfg.Channels.Transport = "pager"
	if _, err := New(cfg, b); err == nil {
		t.Error("expected unknown transport error")
	}
}
