package engine

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when a packet is sent without a slot connection.
var ErrNotConnected = errors.New("not connected")

// ErrScoutInFlight is returned when a scout is requested while another one is pending.
var ErrScoutInFlight = errors.New("scout already in flight")

// Error represents a failure detected by the engine.
//
// Error carries a code so callers can branch with the Is* helpers below
// instead of matching message text.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates invalid connection parameters.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeTransport indicates the socket failed to open, send or poll.
	ErrCodeTransport ErrorCode = "TRANSPORT"

	// ErrCodeProtocolDesync indicates a gap in the received item indices.
	ErrCodeProtocolDesync ErrorCode = "PROTOCOL_DESYNC"

	// ErrCodeTimeout indicates the handshake did not complete in time.
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeRewardApplication indicates a queued reward could not be granted.
	ErrCodeRewardApplication ErrorCode = "REWARD_APPLICATION"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsConfigurationError returns true if err is a configuration error.
func IsConfigurationError(err error) bool { return hasCode(err, ErrCodeConfiguration) }

// IsTransportError returns true if err is a transport error.
func IsTransportError(err error) bool { return hasCode(err, ErrCodeTransport) }

// IsDesyncError returns true if err reports an item index gap.
func IsDesyncError(err error) bool { return hasCode(err, ErrCodeProtocolDesync) }

// IsTimeoutError returns true if err is a handshake timeout.
func IsTimeoutError(err error) bool { return hasCode(err, ErrCodeTimeout) }

// IsRewardError returns true if err is a reward application error.
func IsRewardError(err error) bool { return hasCode(err, ErrCodeRewardApplication) }

// NewConfigurationError creates an Error for rejected connection parameters.
func NewConfigurationError(msg string) *Error {
	return &Error{Code: ErrCodeConfiguration, Message: msg}
}

// NewTransportError wraps a socket failure.
func NewTransportError(op string, err error) *Error {
	return &Error{Code: ErrCodeTransport, Message: op, Err: err}
}

// NewDesyncError reports the first index that did not follow the high-water mark.
func NewDesyncError(expected, got int64) *Error {
	return &Error{
		Code:    ErrCodeProtocolDesync,
		Message: fmt.Sprintf("expected item index %d, got %d", expected, got),
	}
}

// NewTimeoutError reports a handshake that did not finish.
func NewTimeoutError(msg string) *Error {
	return &Error{Code: ErrCodeTimeout, Message: msg}
}

// NewRewardError wraps a failed grant.
func NewRewardError(r QueuedReward, err error) *Error {
	return &Error{
		Code:    ErrCodeRewardApplication,
		Message: fmt.Sprintf("grant %q (item %d, index %d)", r.Name, r.APItemID, r.Index),
		Err:     err,
	}
}
