package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestStatusKind(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{401, KindUnauthorized},
		{403, KindUnauthorized},
		{400, KindBadRequest},
		{404, KindBadRequest},
		{422, KindBadRequest},
		{429, KindRateLimited},
		{500, KindNetwork},
		{502, KindNetwork},
		{503, KindNetwork},
		{529, KindNetwork},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			if got := statusKind(tt.status); got != tt.want {
				t.Errorf("statusKind(%d) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &Error{Kind: KindRateLimited, Provider: NameOpenAI}, true},
		{"network", &Error{Kind: KindNetwork, Provider: NameGateway}, true},
		{"no response", &Error{Kind: KindNoResponse, Provider: NameOpenAI}, true},
		{"unauthorized", &Error{Kind: KindUnauthorized, Provider: NameOpenAI}, false},
		{"bad request", &Error{Kind: KindBadRequest, Provider: NameAnthropic}, false},
		{"configuration", &ConfigurationError{Provider: NameOpenAI, Reason: "missing API key"}, false},
		{"parse", &ParseError{Provider: NameGateway, Err: errors.New("bad json")}, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"wrapped retryable", fmt.Errorf("attempt 1: %w", &Error{Kind: KindRateLimited}), true},
		{"plain error", errors.New("something else"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestUserMessage_DistinctTerminalMessages(t *testing.T) {
	cfg := UserMessage(&ConfigurationError{Provider: NameOpenAI, Reason: "missing API key"})
	rate := UserMessage(&Error{Kind: KindRateLimited, Provider: NameOpenAI})
	network := UserMessage(&Error{Kind: KindNetwork, Provider: NameOpenAI})

	if cfg != "service not configured" {
		t.Errorf("configuration message = %q", cfg)
	}
	if rate == cfg || network == cfg || rate == network {
		t.Errorf("terminal messages must be distinct: %q / %q / %q", cfg, rate, network)
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := &Error{Kind: KindNetwork, Provider: NameGateway, Err: inner}
	if !errors.Is(err, inner) {
		t.Error("Error should unwrap to its cause")
	}
}

func TestTransportError_PreservesCancellation(t *testing.T) {
	if err := transportError(NameOpenAI, context.Canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("cancellation was wrapped: %v", err)
	}
	wrapped := transportError(NameOpenAI, errors.New("dial tcp: connection refused"))
	var provErr *Error
	if !errors.As(wrapped, &provErr) || provErr.Kind != KindNetwork {
		t.Errorf("transport failure not classified as network: %v", wrapped)
	}
}
