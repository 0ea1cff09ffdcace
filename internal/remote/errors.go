// Package remote holds the HTTP plumbing shared by the vault and
// orchestrator clients: the error taxonomy, the JSON round trip and
// boundary validation of response payloads.
package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthError means the remote side rejected our credentials.
type AuthError struct {
	Target     string
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: credentials rejected (status=%d)", e.Target, e.StatusCode)
}

// NetworkError covers connection failures, timeouts and non-success statuses.
// StatusCode is zero when no response was received.
type NetworkError struct {
	Target     string
	StatusCode int
	Body       string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: request failed: %v", e.Target, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s: unexpected status=%d body=%s", e.Target, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: unexpected status=%d", e.Target, e.StatusCode)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Temporary reports whether a retry could succeed: no response at all,
// 429, or a 5xx.
func (e *NetworkError) Temporary() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// MalformedResponseError means the payload did not have the expected shape.
type MalformedResponseError struct {
	Target string
	Path   string
	Reason string
}

func (e *MalformedResponseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: malformed response: %s", e.Target, e.Reason)
	}
	return fmt.Sprintf("%s: malformed response at %q: %s", e.Target, e.Path, e.Reason)
}

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsNetwork reports whether err is (or wraps) a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsMalformed reports whether err is (or wraps) a MalformedResponseError.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}

// IsTemporary reports whether err is a NetworkError worth retrying.
func IsTemporary(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Temporary()
	}
	return false
}

// Kind returns a short label for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsAuth(err):
		return "auth"
	case IsMalformed(err):
		return "malformed"
	case IsNetwork(err):
		return "network"
	default:
		return "other"
	}
}
