package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	_ "modernc.org/sqlite"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/codephyt/vaultrelay/internal/bus"
	"github.com/codephyt/vaultrelay/internal/config"
	"github.com/codephyt/vaultrelay/internal/media"
)

// WhatsAppChannel implements a native WhatsApp client.
type WhatsAppChannel struct {
	BaseChannel
	client    *whatsmeow.Client
	config    config.WhatsAppConfig
	storePath string
	qrPath    string
	container *sqlstore.Container
	sendFn    func(ctx context.Context, msg *bus.OutboundMessage) error
}

// NewWhatsAppChannel creates a new WhatsApp channel.
func NewWhatsAppChannel(cfg *config.Config, messageBus *bus.MessageBus) *WhatsAppChannel {
	return &WhatsAppChannel{
		BaseChannel: BaseChannel{
			Bus:     messageBus,
			limiter: newLimiter(cfg.Channels.SendRatePerSecond),
			ready:   make(chan struct{}),
		},
		config:    cfg.Channels.WhatsApp,
		storePath: cfg.WhatsAppStorePath(),
		qrPath:    cfg.WhatsAppQRPath(),
	}
}

func (c *WhatsAppChannel) Name() string { return config.TransportWhatsApp }

// Start opens the device store, pairs if needed and connects. Pairing
// blocks until the QR code is scanned, times out or ctx ends.
func (c *WhatsAppChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	dbLog := waLog.Stdout("Database", "WARN", true)
	clientLog := waLog.Stdout("Client", "WARN", true)

	if err := os.MkdirAll(filepath.Dir(c.storePath), 0o700); err != nil {
		return fmt.Errorf("create whatsapp store dir: %w", err)
	}
	dsn := "file:" + c.storePath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, dbLog)
	if err != nil {
		return fmt.Errorf("failed to init whatsapp db: %w", err)
	}
	c.container = container

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get device: %w", err)
	}

	c.client = whatsmeow.NewClient(deviceStore, clientLog)
	c.client.AddEventHandler(c.eventHandler)
	c.Bus.Subscribe(c.Name(), c.handleOutbound)

	if c.client.Store.ID != nil {
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return nil
	}

	qrChan, err := c.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to open qr channel: %w", err)
	}
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return c.pair(ctx, qrChan)
}

func (c *WhatsAppChannel) pair(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return nil
			}
			switch evt.Event {
			case "code":
				c.showQR(evt.Code)
			case "success":
				slog.Info("WhatsApp paired")
				return nil
			case "timeout":
				return errors.New("whatsapp pairing timed out")
			default:
				if evt.Error != nil {
					return fmt.Errorf("whatsapp pairing failed: %w", evt.Error)
				}
				slog.Info("WhatsApp login event", "event", evt.Event)
			}
		}
	}
}

// showQR prints the pairing code to the terminal and saves it as a PNG.
func (c *WhatsAppChannel) showQR(code string) {
	if q, err := qrcode.New(code, qrcode.Low); err == nil {
		fmt.Println("WhatsApp: Scan this QR code to link the relay:")
		fmt.Println(q.ToSmallString(false))
	}
	if err := qrcode.WriteFile(code, qrcode.Medium, 512, c.qrPath); err != nil {
		slog.Warn("Could not save WhatsApp QR code", "path", c.qrPath, "error", err)
		return
	}
	fmt.Printf("WhatsApp login QR code saved to: %s\n", c.qrPath)
}

func (c *WhatsAppChannel) Stop() error {
	if c.client != nil {
		c.client.Disconnect()
	}
	if c.container != nil {
		return c.container.Close()
	}
	return nil
}

// Send delivers text, or an attachment with the text as its caption.
func (c *WhatsAppChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	if c.client == nil {
		return errors.New("whatsapp client not initialized")
	}
	jid, err := chatJID(msg.ChatID)
	if err != nil {
		return err
	}
	if msg.Attachment == nil {
		_, err = c.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(msg.Content)})
		return err
	}

	att := msg.Attachment
	up, err := c.client.Upload(ctx, att.Data, uploadType(att.Kind()))
	if err != nil {
		return fmt.Errorf("upload %s: %w", att.FileName, err)
	}
	if _, err := c.client.SendMessage(ctx, jid, mediaMessage(att, up)); err != nil {
		return err
	}
	// Voice notes carry no caption, so the text follows separately.
	if att.Kind() == media.KindAudio && strings.TrimSpace(att.Caption) != "" {
		_, err = c.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(att.Caption)})
	}
	return err
}

func (c *WhatsAppChannel) handleOutbound(ctx context.Context, msg *bus.OutboundMessage) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	if err := c.sendOutbound(sendCtx, msg); err != nil {
		slog.Error("WhatsApp send failed", "to", msg.ChatID, "trace", msg.TraceID, "error", err)
		return err
	}
	slog.Info("WhatsApp reply sent", "to", msg.ChatID, "trace", msg.TraceID, "attachment", msg.Attachment != nil)
	return nil
}

func (c *WhatsAppChannel) sendOutbound(ctx context.Context, msg *bus.OutboundMessage) error {
	if c.sendFn != nil {
		return c.sendFn(ctx, msg)
	}
	return c.Send(ctx, msg)
}

func (c *WhatsAppChannel) eventHandler(evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		slog.Info("WhatsApp connected")
		c.markReady()
	case *events.Disconnected:
		slog.Warn("WhatsApp disconnected")
	case *events.LoggedOut:
		slog.Error("WhatsApp session logged out, delete the device store to pair again", "reason", v.Reason)
	case *events.Message:
		msg, ok := inboundFromWhatsApp(v, c.config.IgnoreReactions)
		if !ok {
			return
		}
		slog.Debug("WhatsApp message received", "from", msg.SenderID)
		c.publish(msg)
	}
}

// inboundFromWhatsApp converts a message event. Only one-to-one chats
// reach the engine: our own messages, groups, broadcasts, status updates,
// non-text payloads and protocol noise are dropped.
func inboundFromWhatsApp(v *events.Message, ignoreReactions bool) (*bus.InboundMessage, bool) {
	if v == nil || v.Message == nil || v.Info.IsFromMe {
		return nil, false
	}
	switch {
	case v.Info.IsGroup, v.Info.Chat.Server == types.GroupServer, v.Info.Chat.Server == types.BroadcastServer:
		return nil, false
	}
	if ignoreReactions && v.Message.GetReactionMessage() != nil {
		return nil, false
	}
	content := messageText(v.Message)
	if shouldDropSystemNoise(content) || strings.TrimSpace(content) == "" {
		return nil, false
	}
	traceID := "wa-" + v.Info.ID
	if v.Info.ID == "" {
		traceID = uuid.NewString()
	}
	return &bus.InboundMessage{
		Channel:   config.TransportWhatsApp,
		SenderID:  v.Info.Sender.User,
		ChatID:    v.Info.Chat.String(),
		MessageID: v.Info.ID,
		TraceID:   traceID,
		Content:   content,
		Timestamp: v.Info.Timestamp,
	}, true
}

func messageText(m *waE2E.Message) string {
	switch {
	case m.GetConversation() != "":
		return m.GetConversation()
	case m.GetExtendedTextMessage().GetText() != "":
		return m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage().GetCaption() != "":
		return m.GetImageMessage().GetCaption()
	case m.GetVideoMessage().GetCaption() != "":
		return m.GetVideoMessage().GetCaption()
	case m.GetDocumentMessage().GetCaption() != "":
		return m.GetDocumentMessage().GetCaption()
	}
	return ""
}

func shouldDropSystemNoise(content string) bool {
	if content == "" {
		return false
	}
	if strings.Contains(content, "messageContextInfo") &&
		strings.Contains(content, "{") &&
		strings.Contains(content, ":") {
		return true
	}
	return strings.Contains(content, "senderKeyDistributionMessage")
}

// chatJID accepts a full JID or a bare phone number.
func chatJID(chatID string) (types.JID, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return types.JID{}, errors.New("empty chat id")
	}
	if !strings.Contains(chatID, "@") {
		return types.NewJID(strings.TrimPrefix(chatID, "+"), types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid JID: %w", err)
	}
	return jid, nil
}

func uploadType(kind media.Kind) whatsmeow.MediaType {
	switch kind {
	case media.KindImage:
		return whatsmeow.MediaImage
	case media.KindVideo:
		return whatsmeow.MediaVideo
	case media.KindAudio:
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

// mediaMessage builds the protobuf for an uploaded attachment.
func mediaMessage(att *media.Attachment, up whatsmeow.UploadResponse) *waE2E.Message {
	caption := proto.String(att.Caption)
	mimetype := proto.String(att.MimeType)
	length := proto.Uint64(up.FileLength)

	switch att.Kind() {
	case media.KindImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       caption,
			Mimetype:      mimetype,
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    length,
		}}
	case media.KindVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       caption,
			Mimetype:      mimetype,
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    length,
		}}
	case media.KindAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      mimetype,
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    length,
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       caption,
			Mimetype:      mimetype,
			Title:         proto.String(att.FileName),
			FileName:      proto.String(att.FileName),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    length,
		}}
	}
}
