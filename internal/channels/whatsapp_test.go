package channels

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/codephyt/vaultrelay/internal/bus"
	"github.com/codephyt/vaultrelay/internal/config"
	"github.com/codephyt/vaultrelay/internal/media"
)

func newTestWhatsApp(t *testing.T) (*WhatsAppChannel, *bus.MessageBus) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Relay.StateDir = t.TempDir()
	cfg.Channels.SendRatePerSecond = 0
	msgBus := bus.NewMessageBus()
	return NewWhatsAppChannel(cfg, msgBus), msgBus
}

func textEvent(chat types.JID, text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:   chat,
				Sender: types.NewJID("15550100", types.DefaultUserServer),
			},
			ID:        "3EB0ABC",
			Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestWhatsAppInboundFromDirectChat(t *testing.T) {
	chat := types.NewJID("15550100", types.DefaultUserServer)
	msg, ok := inboundFromWhatsApp(textEvent(chat, "What is the price?"), true)
	if !ok {
		t.Fatal("expected message to be accepted")
	}
	if msg.SenderID != "15550100" || msg.ChatID != "15550100@s.whatsapp.net" {
		t.Errorf("unexpected addressing: %+v", msg)
	}
	if msg.Content != "What is the price?" || msg.TraceID != "wa-3EB0ABC" || msg.IsGroup {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestWhatsAppInboundFilters(t *testing.T) {
	direct := types.NewJID("15550100", types.DefaultUserServer)

	fromMe := textEvent(direct, "hi")
	fromMe.Info.IsFromMe = true

	status := textEvent(types.StatusBroadcastJID, "my status")

	noise := textEvent(direct, "messageContextInfo:{deviceListMetadata:{}}")

	empty := textEvent(direct, "   ")

	reaction := textEvent(direct, "")
	reaction.Message = &waE2E.Message{ReactionMessage: &waE2E.ReactionMessage{Text: proto.String("👍")}}

	image := textEvent(direct, "")
	image.Message = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Mimetype: proto.String("image/jpeg")}}

	cases := map[string]*events.Message{
		"own message": fromMe,
		"status":      status,
		"noise":       noise,
		"empty":       empty,
		"reaction":    reaction,
		"bare image":  image,
	}
	for name, evt := range cases {
		if _, ok := inboundFromWhatsApp(evt, true); ok {
			t.Errorf("%s: expected message to be dropped", name)
		}
	}
	if _, ok := inboundFromWhatsApp(nil, true); ok {
		t.Error("nil event: expected drop")
	}
}

func TestWhatsAppInboundDropsGroups(t *testing.T) {
	group := types.NewJID("120363000000000000", types.GroupServer)

	flagged := textEvent(group, "hello all")
	flagged.Info.IsGroup = true
	if _, ok := inboundFromWhatsApp(flagged, true); ok {
		t.Error("expected group message to be dropped")
	}

	// Some events arrive without the flag; the chat server still marks them.
	unflagged := textEvent(group, "hello all")
	if _, ok := inboundFromWhatsApp(unflagged, true); ok {
		t.Error("expected g.us chat to be dropped")
	}
}

func TestWhatsAppInboundUsesCaptions(t *testing.T) {
	evt := textEvent(types.NewJID("15550100", types.DefaultUserServer), "")
	evt.Message = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("what is this?")}}

	msg, ok := inboundFromWhatsApp(evt, true)
	if !ok || msg.Content != "what is this?" {
		t.Fatalf("expected caption as content, got %+v", msg)
	}
}

func TestWhatsAppEventHandlerPublishesAndMarksReady(t *testing.T) {
	wa, msgBus := newTestWhatsApp(t)

	wa.eventHandler(&events.Connected{})
	select {
	case <-wa.Ready():
	default:
		t.Fatal("expected ready after connect")
	}
	wa.eventHandler(&events.Connected{})

	wa.eventHandler(textEvent(types.NewJID("15550100", types.DefaultUserServer), "hi"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := msgBus.ConsumeInbound(ctx)
	if err != nil {
		t.Fatalf("expected inbound message: %v", err)
	}
	if msg.Channel != "whatsapp" || msg.Content != "hi" {
		t.Errorf("unexpected inbound: %+v", msg)
	}
}

func TestWhatsAppHandleOutboundUsesSendFn(t *testing.T) {
	wa, _ := newTestWhatsApp(t)

	var called int32
	wa.sendFn = func(ctx context.Context, msg *bus.OutboundMessage) error {
		atomic.AddInt32(&called, 1)
		return nil
	}
	err := wa.handleOutbound(context.Background(), &bus.OutboundMessage{
		Channel: wa.Name(),
		ChatID:  "15550100@s.whatsapp.net",
		Content: "test",
	})
	if err != nil || atomic.LoadInt32(&called) != 1 {
		t.Fatalf("expected one send, got %d (%v)", called, err)
	}

	wa.sendFn = func(ctx context.Context, msg *bus.OutboundMessage) error { return errors.New("offline") }
	if err := wa.handleOutbound(context.Background(), &bus.OutboundMessage{ChatID: "x"}); err == nil {
		t.Fatal("expected send error to propagate")
	}
}

func TestWhatsAppSendWithoutClient(t *testing.T) {
	wa, _ := newTestWhatsApp(t)
	if err := wa.Send(context.Background(), &bus.OutboundMessage{ChatID: "15550100"}); err == nil {
		t.Fatal("expected error without client")
	}
}

func TestWhatsAppStartDisabledIsNoop(t *testing.T) {
	wa, _ := newTestWhatsApp(t)
	wa.config.Enabled = false
	if err := wa.Start(context.Background()); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if wa.client != nil {
		t.Error("expected no client when disabled")
	}
}

func TestWhatsAppPathsFromConfig(t *testing.T) {
	wa, _ := newTestWhatsApp(t)
	if filepath.Base(wa.storePath) != "whatsapp.db" || filepath.Base(wa.qrPath) != "whatsapp-qr.png" {
		t.Errorf("unexpected paths: %s %s", wa.storePath, wa.qrPath)
	}
}

func TestChatJID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"15550100@s.whatsapp.net", "15550100@s.whatsapp.net", false},
		{"+15550100", "15550100@s.whatsapp.net", false},
		{"120363000000000000@g.us", "120363000000000000@g.us", false},
		{"  ", "", true},
	}
	for _, tt := range tests {
		got, err := chatJID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("chatJID(%q) error = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got.String() != tt.want {
			t.Errorf("chatJID(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestMediaMessageByKind(t *testing.T) {
	up := whatsmeow.UploadResponse{URL: "https://mmg.example/x", DirectPath: "/x", FileLength: 8}

	doc := mediaMessage(&media.Attachment{FileName: "report.pdf", MimeType: "application/pdf", Caption: "Here"}, up)
	if doc.GetDocumentMessage().GetFileName() != "report.pdf" || doc.GetDocumentMessage().GetCaption() != "Here" {
		t.Errorf("unexpected document message: %v", doc)
	}
	if doc.GetDocumentMessage().GetFileLength() != 8 {
		t.Errorf("expected file length from upload")
	}

	img := mediaMessage(&media.Attachment{FileName: "a.png", MimeType: "image/png", Caption: "pic"}, up)
	if img.GetImageMessage().GetCaption() != "pic" || img.GetImageMessage().GetURL() != up.URL {
		t.Errorf("unexpected image message: %v", img)
	}

	audio := mediaMessage(&media.Attachment{FileName: "a.mp3", MimeType: "audio/mpeg", Caption: "listen"}, up)
	if audio.GetAudioMessage() == nil || audio.GetAudioMessage().GetMimetype() != "audio/mpeg" {
		t.Errorf("unexpected audio message: %v", audio)
	}

	if uploadType(media.KindVideo) != whatsmeow.MediaVideo || uploadType(media.KindDocument) != whatsmeow.MediaDocument {
		t.Error("unexpected upload types")
	}
}
