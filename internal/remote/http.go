package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxBody caps how much of a response body is read. Orchestrator replies
// may carry base64 media, hence the generous limit.
const maxBody = 96 << 20

// Request describes one JSON round trip.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   any
}

// Response is the raw outcome of a successful (2xx) round trip.
type Response struct {
	StatusCode int
	Body       []byte
}

// Do performs req and classifies failures into the package error taxonomy.
// Only 2xx responses are returned without error.
func Do(ctx context.Context, client *http.Client, target string, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", target, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", target, err)
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Target: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &NetworkError{Target: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Target: target, StatusCode: resp.StatusCode, Body: snippet(data)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &NetworkError{
			Target:     target,
			StatusCode: resp.StatusCode,
			Body:       snippet(data),
			Err:        fmt.Errorf("status %d", resp.StatusCode),
		}
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// WithRetry runs fn up to attempts times, sleeping baseDelay*2^i between
// tries, as long as the error is temporary. The sleep honours ctx.
func WithRetry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTemporary(err) || i == attempts-1 {
			break
		}
		timer := time.NewTimer(baseDelay * time.Duration(1<<i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}
