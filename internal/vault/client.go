// Package vault talks to the web-facing inbound buffer: it lists pending
// tasks and posts completion updates, both with bearer authentication.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codephyt/vaultrelay/internal/config"
	"github.com/codephyt/vaultrelay/internal/remote"
	"github.com/tidwall/gjson"
)

const target = "vault"

// Client wraps the vault sync endpoint.
type Client struct {
	url           string
	masterKey     string
	httpClient    *http.Client
	updateRetries int
	updateBackoff time.Duration
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

// NewClient creates a vault client from cfg.
func NewClient(cfg config.VaultConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	c := &Client{
		url:           strings.TrimSpace(cfg.URL),
		masterKey:     cfg.MasterKey,
		httpClient:    &http.Client{Timeout: timeout},
		updateRetries: cfg.UpdateRetries,
		updateBackoff: cfg.UpdateBackoff,
	}
	if c.updateRetries <= 0 {
		c.updateRetries = 1
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.masterKey)
	return h
}

// FetchPending lists the tasks currently in PENDING. A missing or null
// tasks field means nothing is pending. A body that is not a JSON object
// with an array of tasks is a MalformedResponseError; a single unreadable
// item is only rejected.
func (c *Client) FetchPending(ctx context.Context) (Listing, error) {
	resp, err := remote.Do(ctx, c.httpClient, target, remote.Request{
		Method: http.MethodGet,
		URL:    c.url,
		Header: c.header(),
	})
	if err != nil {
		return Listing{}, err
	}
	if err := remote.ValidateJSON(target, resp.Body, remote.Optional("tasks", remote.KindArray)); err != nil {
		return Listing{}, err
	}

	items := gjson.GetBytes(resp.Body, "tasks").Array()
	listing := Listing{Tasks: make([]Task, 0, len(items))}
	for i, item := range items {
		t, err := parseTask(fmt.Sprintf("tasks.%d", i), item)
		if err != nil {
			slog.Warn("Vault task rejected", "error", err)
			listing.Rejected = append(listing.Rejected, err)
			continue
		}
		listing.Tasks = append(listing.Tasks, t)
	}
	return listing, nil
}

func parseTask(prefix string, item gjson.Result) (Task, error) {
	if !item.IsObject() {
		return Task{}, &remote.MalformedResponseError{Target: target, Path: prefix, Reason: "task is not an object"}
	}
	err := remote.ValidateResult(target, prefix, item,
		remote.Required("messageId", remote.KindString),
		remote.Optional("email", remote.KindString),
		remote.Optional("userText", remote.KindString),
	)
	if err != nil {
		return Task{}, err
	}
	var t Task
	if err := json.Unmarshal([]byte(item.Raw), &t); err != nil {
		return Task{}, &remote.MalformedResponseError{Target: target, Path: prefix, Reason: err.Error()}
	}
	if strings.TrimSpace(t.MessageID) == "" {
		return Task{}, &remote.MalformedResponseError{Target: target, Path: prefix + ".messageId", Reason: "empty message id"}
	}
	t.Status = StatusPending
	return t, nil
}

// PostCompletion requests the transition of one task out of PENDING.
// Temporary failures are retried with exponential backoff; auth and
// malformed errors are returned at once.
func (c *Client) PostCompletion(ctx context.Context, comp Completion) (Ack, error) {
	var ack Ack
	err := remote.WithRetry(ctx, c.updateRetries, c.updateBackoff, func() error {
		resp, err := remote.Do(ctx, c.httpClient, target, remote.Request{
			Method: http.MethodPost,
			URL:    c.url,
			Header: c.header(),
			Body:   comp,
		})
		if err != nil {
			return err
		}
		ack = Ack{StatusCode: resp.StatusCode}
		// The body is informational; an empty or non-JSON 2xx still counts.
		if gjson.ValidBytes(resp.Body) {
			ack.Status = gjson.GetBytes(resp.Body, "status").String()
		}
		return nil
	})
	if err != nil {
		return Ack{}, err
	}
	return ack, nil
}
