package rtconsole

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when sending on a client that is not connected.
	ErrClosed = errors.New("rtconsole: connection is closed")

	ErrAlreadyConnected = errors.New("rtconsole: already connected")

	ErrInvalidConfig = errors.New("rtconsole: invalid configuration")

	// ErrMissingCredential has no recovery path; fail at startup.
	ErrMissingCredential = errors.New("rtconsole: missing credential")

	// ErrConnectionFailed matches every *ConnectionError.
	ErrConnectionFailed = errors.New("rtconsole: connection failed")

	ErrSendTimeout = errors.New("rtconsole: send timeout")

	// ErrInvalidEventData matches every *EventError.
	ErrInvalidEventData = errors.New("rtconsole: invalid event data")

	ErrItemNotFound = errors.New("rtconsole: conversation item not found")

	ErrCircuitOpen = errors.New("rtconsole: circuit breaker is open")
)

// ConfigError is a rejected configuration field. Errors for the Credential
// field also match ErrMissingCredential.
type ConfigError struct {
	Field   string
	Value   string // empty when not safe to print
	Message string
}

func NewConfigError(field, value, message string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Message: message}
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("rtconsole: invalid config field %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("rtconsole: invalid config field %q (value: %q): %s", e.Field, e.Value, e.Message)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig || (target == ErrMissingCredential && e.Field == "Credential")
}

// ConnectionError is a failed network operation against URL, such as
// "dial", "mint" or "sdp".
type ConnectionError struct {
	URL       string
	Operation string
	Cause     error
}

func NewConnectionError(url, operation string, cause error) *ConnectionError {
	return &ConnectionError{URL: url, Operation: operation, Cause: cause}
}

func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("rtconsole: %s failed for %q", e.Operation, e.URL)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error        { return e.Cause }
func (e *ConnectionError) Is(target error) bool { return target == ErrConnectionFailed }

// SendError is a client event that could not be written.
type SendError struct {
	EventType string
	EventID   string
	Cause     error
}

func NewSendError(eventType, eventID string, cause error) *SendError {
	return &SendError{EventType: eventType, EventID: eventID, Cause: cause}
}

func (e *SendError) Error() string {
	if e.EventID == "" {
		return fmt.Sprintf("rtconsole: failed to send %s event: %v", e.EventType, e.Cause)
	}
	return fmt.Sprintf("rtconsole: failed to send %s event %q: %v", e.EventType, e.EventID, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }

// IsTimeout reports whether the write timed out.
func (e *SendError) IsTimeout() bool { return errors.Is(e.Cause, ErrSendTimeout) }

// EventError is a server event that could not be decoded or folded into the
// conversation. The raw payload is kept for the event log.
type EventError struct {
	EventType string
	RawData   []byte
	Cause     error
}

func NewEventError(eventType string, rawData []byte, cause error) *EventError {
	return &EventError{EventType: eventType, RawData: rawData, Cause: cause}
}

func (e *EventError) Error() string {
	return fmt.Sprintf("rtconsole: failed to process %s event: %v", e.EventType, e.Cause)
}

func (e *EventError) Unwrap() error        { return e.Cause }
func (e *EventError) Is(target error) bool { return target == ErrInvalidEventData }
