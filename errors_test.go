package rtconsole

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	cause := errors.New("connection refused")
	tests := []struct {
		err  error
		want string
	}{
		{NewConfigError("ResourceEndpoint", "ftp//x", "invalid URL format"),
			`rtconsole: invalid config field "ResourceEndpoint" (value: "ftp//x"): invalid URL format`},
		{NewConfigError("Credential", "", "cannot be empty"),
			`rtconsole: invalid config field "Credential": cannot be empty`},
		{NewConnectionError("wss://api.openai.com/v1/realtime", "dial", cause),
			`rtconsole: dial failed for "wss://api.openai.com/v1/realtime": connection refused`},
		{NewConnectionError("https://x/v1/realtime/sessions", "mint", nil),
			`rtconsole: mint failed for "https://x/v1/realtime/sessions"`},
		{NewSendError("response.cancel", "", ErrClosed),
			"rtconsole: failed to send response.cancel event: rtconsole: connection is closed"},
		{NewSendError("input_audio_buffer.append", "evt_1", ErrSendTimeout),
			`rtconsole: failed to send input_audio_buffer.append event "evt_1": rtconsole: send timeout`},
		{NewEventError("response.audio.delta", nil, ErrItemNotFound),
			"rtconsole: failed to process response.audio.delta event: rtconsole: conversation item not found"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestErrorMatching(t *testing.T) {
	cause := errors.New("connection refused")
	tests := []struct {
		name    string
		err     error
		matches []error
		misses  []error
	}{
		{
			name:    "credential config error",
			err:     NewConfigError("Credential", "", "cannot be empty"),
			matches: []error{ErrInvalidConfig, ErrMissingCredential},
		},
		{
			name:    "other config error",
			err:     NewConfigError("Deployment", "", "cannot be empty"),
			matches: []error{ErrInvalidConfig},
			misses:  []error{ErrMissingCredential},
		},
		{
			name:    "connection error",
			err:     fmt.Errorf("relay: %w", NewConnectionError("ws://x", "dial", cause)),
			matches: []error{ErrConnectionFailed, cause},
			misses:  []error{ErrInvalidConfig},
		},
		{
			name:    "cancelled dial",
			err:     NewConnectionError("ws://x", "dial", context.Canceled),
			matches: []error{ErrConnectionFailed, context.Canceled},
		},
		{
			name:    "send on closed client",
			err:     NewSendError("session.update", "", ErrClosed),
			matches: []error{ErrClosed},
			misses:  []error{ErrSendTimeout},
		},
		{
			name:    "unknown item",
			err:     NewEventError("conversation.item.truncated", []byte(`{}`), ErrItemNotFound),
			matches: []error{ErrInvalidEventData, ErrItemNotFound},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, target := range tt.matches {
				if !errors.Is(tt.err, target) {
					t.Errorf("%v should match %v", tt.err, target)
				}
			}
			for _, target := range tt.misses {
				if errors.Is(tt.err, target) {
					t.Errorf("%v should not match %v", tt.err, target)
				}
			}
		})
	}
}

func TestSendError_IsTimeout(t *testing.T) {
	if !NewSendError("x", "", fmt.Errorf("write: %w", ErrSendTimeout)).IsTimeout() {
		t.Error("wrapped ErrSendTimeout should be a timeout")
	}
	if NewSendError("x", "", ErrClosed).IsTimeout() {
		t.Error("ErrClosed is not a timeout")
	}
}

func TestEventError_KeepsPayload(t *testing.T) {
	raw := []byte(`{"type":"response.audio.delta","item_id":"item_9"}`)
	var evErr *EventError
	if !errors.As(fmt.Errorf("fold: %w", NewEventError("response.audio.delta", raw, ErrItemNotFound)), &evErr) {
		t.Fatal("errors.As should find the EventError")
	}
	if string(evErr.RawData) != string(raw) || evErr.EventType != "response.audio.delta" {
		t.Errorf("unexpected event error %+v", evErr)
	}
}
