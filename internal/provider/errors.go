package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// StatusError is a non-2xx answer from a model endpoint.
type StatusError struct {
	Provider string
	Status   int
	Message  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider %s: HTTP %d: %s", e.Provider, e.Status, e.Message)
}

// Temporary reports whether the same request may succeed later.
func (e *StatusError) Temporary() bool {
	switch e.Status {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	}
	return false
}

func newStatusError(provider string, status int, body []byte) *StatusError {
	return &StatusError{Provider: provider, Status: status, Message: apiMessage(status, body)}
}

// apiMessage pulls the message out of an OpenAI-style error body, falling
// back to a short description of the status.
func apiMessage(status int, body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if json.Unmarshal(payload.Error, &flat) == nil && flat != "" {
			return flat
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		if len(s) > 200 {
			s = s[:200] + "..."
		}
		return s
	}
	return statusHint(status)
}

func statusHint(status int) string {
	switch status {
	case 401:
		return "authentication failed, check your API key"
	case 403:
		return "access denied for this API key"
	case 404:
		return "model or endpoint not found"
	case 429:
		return "rate limited, wait a moment"
	case 502, 503:
		return "service temporarily unavailable"
	case 529:
		return "provider is overloaded"
	}
	if status >= 500 {
		return "server error"
	}
	return fmt.Sprintf("unexpected status %d", status)
}

// temporary classifies an error from a request attempt.
func temporary(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return (&StatusError{Status: ae.StatusCode}).Temporary()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "reset by peer", "EOF"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// FriendlyError renders a provider error for display to the user.
func FriendlyError(err error) string {
	if err == nil {
		return ""
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.Status == 401 || se.Status == 403 || se.Message == "" {
			return statusHint(se.Status)
		}
		return se.Message
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return "connection refused (is the model server running?)"
	case strings.Contains(msg, "no such host"):
		return "host not found (check base_url)"
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		return "timed out waiting for the model"
	case strings.Contains(msg, "reset by peer"), strings.Contains(msg, "EOF"):
		return "connection dropped by the model server"
	}
	return msg
}
