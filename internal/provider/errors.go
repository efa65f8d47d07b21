package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a backend failure for retry decisions.
type ErrorKind string

const (
	// KindUnauthorized: credentials rejected (401/403). Terminal.
	KindUnauthorized ErrorKind = "unauthorized"
	// KindBadRequest: the request itself is invalid (400/404/422). Terminal.
	KindBadRequest ErrorKind = "bad_request"
	// KindRateLimited: throttled by the backend (429). Retryable.
	KindRateLimited ErrorKind = "rate_limited"
	// KindNoResponse: the backend answered but produced no usable output. Retryable.
	KindNoResponse ErrorKind = "no_response"
	// KindNetwork: transport failure or 5xx. Retryable.
	KindNetwork ErrorKind = "network"
)

// Error is a classified backend failure.
type Error struct {
	Kind     ErrorKind
	Provider Name
	// Status is the HTTP status code when one was observed, 0 otherwise.
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could plausibly succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindNetwork, KindNoResponse:
		return true
	}
	return false
}

// UserMessage returns a short human-readable description for terminal surfaces.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindUnauthorized:
		return fmt.Sprintf("%s rejected the configured credentials", e.Provider)
	case KindBadRequest:
		return fmt.Sprintf("%s rejected the request as invalid", e.Provider)
	case KindRateLimited:
		return "rate limited, try again later"
	case KindNoResponse:
		return fmt.Sprintf("%s returned no usable response", e.Provider)
	default:
		return "temporary network failure"
	}
}

// ConfigurationError reports a backend that cannot be used at all, e.g. a
// missing API key. It is raised before any network activity and never retried.
type ConfigurationError struct {
	Provider Name
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s not configured: %s", e.Provider, e.Reason)
}

// UserMessage returns the human-readable description for terminal surfaces.
func (e *ConfigurationError) UserMessage() string {
	return "service not configured"
}

// ParseError reports a malformed event on a streaming connection. It
// terminates the stream it occurred on and nothing else.
type ParseError struct {
	Provider Name
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: malformed stream event: %v", e.Provider, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// statusKind maps an HTTP status code to an ErrorKind.
func statusKind(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindUnauthorized
	case status == 429:
		return KindRateLimited
	case status >= 400 && status < 500:
		return KindBadRequest
	default:
		return KindNetwork
	}
}

// statusError builds a classified Error from an HTTP status and body excerpt.
func statusError(name Name, status int, body string) *Error {
	body = strings.TrimSpace(body)
	var err error
	if body != "" {
		err = errors.New(body)
	}
	return &Error{Kind: statusKind(status), Provider: name, Status: status, Err: err}
}

// transportError wraps a transport-level failure (dial, TLS, read) as a
// network-kind Error. Context cancellation passes through unwrapped so
// callers can distinguish cancel from failure.
func transportError(name Name, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Kind: KindNetwork, Provider: name, Err: err}
}

// IsRetryable reports whether err is worth another attempt. Configuration
// errors, parse errors, and context cancellation are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return false
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return false
	}
	var provErr *Error
	if errors.As(err, &provErr) {
		return provErr.Retryable()
	}
	return false
}

// UserMessage extracts the human-readable form of any taxonomy error, falling
// back to err.Error() for unclassified failures.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return cfgErr.UserMessage()
	}
	var provErr *Error
	if errors.As(err, &provErr) {
		return provErr.UserMessage()
	}
	return err.Error()
}
