// Package orchestrator calls the local reasoning service that turns a user
// message into a reply.
package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/codephyt/vaultrelay/internal/config"
	"github.com/codephyt/vaultrelay/internal/remote"
)

const target = "orchestrator"

// Intent classifies a lead. Refinement happens inside the orchestrator, so
// the relay only ever sends IntentGeneral.
type Intent string

const IntentGeneral Intent = "GENERAL"

// Attachment is the media part of a reply as it arrived on the wire.
// Base64 is left undecoded.
type Attachment struct {
	Name   string
	Base64 string
}

// Reply is the orchestrator's answer for one message.
type Reply struct {
	Content          string
	Attachment       *Attachment
	RequiresApproval bool
}

type leadRequest struct {
	Message string `json:"message"`
	Email   string `json:"email"`
	Intent  Intent `json:"intent"`
}

type leadResponse struct {
	Reply            string `json:"reply"`
	MediaName        string `json:"media_name"`
	MediaBase64      string `json:"media_base64"`
	RequiresApproval bool   `json:"requires_approval"`
}

// Client posts leads to the reasoning service.
type Client struct {
	endpoint   string
	secret     string
	keyHeader  string
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates an orchestrator client from cfg.
func NewClient(cfg config.OrchestratorConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	header := strings.TrimSpace(cfg.KeyHeader)
	if header == "" {
		header = "x-swarm-key"
	}
	c := &Client{
		endpoint:   strings.TrimRight(strings.TrimSpace(cfg.URL), "/") + "/incoming-lead",
		secret:     cfg.SharedSecret,
		keyHeader:  header,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Route sends one lead and returns the reply. There is no retry here; the
// caller owns the fallback policy.
func (c *Client) Route(ctx context.Context, text, identifier string, intent Intent) (*Reply, error) {
	if intent == "" {
		intent = IntentGeneral
	}
	h := http.Header{}
	h.Set(c.keyHeader, c.secret)

	resp, err := remote.Do(ctx, c.httpClient, target, remote.Request{
		Method: http.MethodPost,
		URL:    c.endpoint,
		Header: h,
		Body:   leadRequest{Message: text, Email: identifier, Intent: intent},
	})
	if err != nil {
		return nil, err
	}
	err = remote.ValidateJSON(target, resp.Body,
		remote.Required("reply", remote.KindString),
		remote.Optional("media_name", remote.KindString),
		remote.Optional("media_base64", remote.KindString),
		remote.Optional("requires_approval", remote.KindBool),
	)
	if err != nil {
		return nil, err
	}

	var lr leadResponse
	if err := json.Unmarshal(resp.Body, &lr); err != nil {
		return nil, &remote.MalformedResponseError{Target: target, Reason: err.Error()}
	}
	reply := &Reply{Content: lr.Reply, RequiresApproval: lr.RequiresApproval}
	if lr.MediaName != "" || lr.MediaBase64 != "" {
		reply.Attachment = &Attachment{Name: lr.MediaName, Base64: lr.MediaBase64}
	}
	return reply, nil
}
