package channels

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/codephyt/vaultrelay/internal/bus"
	"github.com/codephyt/vaultrelay/internal/config"
)

// SlackChannel receives direct messages over Socket Mode and replies
// through the Web API.
type SlackChannel struct {
	BaseChannel
	config     config.SlackConfig
	httpClient *http.Client
	api        *slack.Client
	socket     *socketmode.Client
	botUserID  string
	sendFn     func(ctx context.Context, msg *bus.OutboundMessage) error
}

// NewSlackChannel creates a new Slack channel.
func NewSlackChannel(cfg *config.Config, messageBus *bus.MessageBus) *SlackChannel {
	return &SlackChannel{
		BaseChannel: BaseChannel{
			Bus:     messageBus,
			limiter: newLimiter(cfg.Channels.SendRatePerSecond),
			ready:   make(chan struct{}),
		},
		config:     cfg.Channels.Slack,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *SlackChannel) Name() string { return config.TransportSlack }

func (c *SlackChannel) apiClient() (*slack.Client, error) {
	token := strings.TrimSpace(c.config.BotToken)
	if token == "" {
		return nil, errors.New("missing slack bot token (RELAY_SLACK_BOT_TOKEN)")
	}
	opts := []slack.Option{slack.OptionHTTPClient(c.httpClient)}
	if base := strings.TrimSpace(c.config.APIBase); base != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(base, "/")+"/"))
	}
	if app := strings.TrimSpace(c.config.AppToken); app != "" {
		opts = append(opts, slack.OptionAppLevelToken(app))
	}
	return slack.New(token, opts...), nil
}

// Start authenticates and opens the Socket Mode connection.
func (c *SlackChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	if strings.TrimSpace(c.config.AppToken) == "" {
		return errors.New("missing slack app token (RELAY_SLACK_APP_TOKEN)")
	}
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	c.api = api
	c.botUserID = auth.UserID
	c.socket = socketmode.New(api)
	c.Bus.Subscribe(c.Name(), c.handleOutbound)

	go c.consume(ctx)
	go func() {
		if err := c.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Slack socket mode stopped", "error", err)
		}
	}()
	slog.Info("Slack socket mode starting", "bot_user", c.botUserID)
	return nil
}

func (c *SlackChannel) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				slog.Info("Slack connected")
				c.markReady()
			case socketmode.EventTypeConnectionError:
				slog.Warn("Slack connection error", "data", evt.Data)
			case socketmode.EventTypeEventsAPI:
				if evt.Request != nil {
					c.socket.Ack(*evt.Request)
				}
				ev, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok || ev.Type != slackevents.CallbackEvent {
					continue
				}
				if in, ok := ev.InnerEvent.Data.(*slackevents.MessageEvent); ok {
					if msg, ok := inboundFromSlack(in, c.botUserID); ok {
						c.publish(msg)
					}
				}
			}
		}
	}
}

// inboundFromSlack keeps direct (im) messages from people. Channel
// traffic, bot messages, edits and other subtypes are dropped.
func inboundFromSlack(in *slackevents.MessageEvent, botUserID string) (*bus.InboundMessage, bool) {
	if in == nil || in.BotID != "" || in.SubType != "" || in.ChannelType != "im" {
		return nil, false
	}
	if in.User == "" || (botUserID != "" && in.User == botUserID) {
		return nil, false
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, false
	}
	return &bus.InboundMessage{
		Channel:   config.TransportSlack,
		SenderID:  in.User,
		ChatID:    in.Channel,
		MessageID: in.TimeStamp,
		TraceID:   "slack-" + in.Channel + "-" + in.TimeStamp,
		Content:   in.Text,
		Timestamp: time.Now(),
	}, true
}

func (c *SlackChannel) Stop() error { return nil }

// Send posts text, or uploads the attachment with the text as its comment.
func (c *SlackChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	api := c.api
	if api == nil {
		var err error
		if api, err = c.apiClient(); err != nil {
			return err
		}
	}
	channelID := strings.TrimSpace(msg.ChatID)
	if channelID == "" {
		return errors.New("empty slack channel id")
	}
	if att := msg.Attachment; att != nil {
		_, err := api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
			Channel:        channelID,
			Filename:       att.FileName,
			Title:          att.FileName,
			FileSize:       att.Size(),
			Reader:         bytes.NewReader(att.Data),
			InitialComment: att.Caption,
		})
		return err
	}
	_, _, err := api.PostMessageContext(ctx, channelID, slack.MsgOptionText(msg.Content, false))
	return err
}

func (c *SlackChannel) handleOutbound(ctx context.Context, msg *bus.OutboundMessage) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}
	var err error
	if c.sendFn != nil {
		err = c.sendFn(ctx, msg)
	} else {
		err = c.Send(ctx, msg)
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		slog.Warn("Slack rate limited, retrying once", "retry_after", rle.RetryAfter)
		select {
		case <-time.After(rle.RetryAfter):
		case <-ctx.Done():
			return ctx.Err()
		}
		if c.sendFn != nil {
			err = c.sendFn(ctx, msg)
		} else {
			err = c.Send(ctx, msg)
		}
	}
	if err != nil {
		slog.Error("Slack send failed", "channel_id", msg.ChatID, "trace", msg.TraceID, "error", err)
		return err
	}
	slog.Info("Slack reply sent", "channel_id", msg.ChatID, "trace", msg.TraceID)
	return nil
}
