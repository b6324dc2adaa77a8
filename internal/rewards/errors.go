package rewards

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes reward failures.
type ErrorCode string

const (
	// ErrCodeUnknownCategory means the item id is outside every known range.
	ErrCodeUnknownCategory ErrorCode = "UNKNOWN_CATEGORY"

	// ErrCodeUnknownAccessor means an event flag names a bitfield the sink cannot set.
	ErrCodeUnknownAccessor ErrorCode = "UNKNOWN_ACCESSOR"

	// ErrCodeGrantFailed wraps an error returned by the Sink.
	ErrCodeGrantFailed ErrorCode = "GRANT_FAILED"
)

// Error is returned when a reward cannot be resolved or granted.
type Error struct {
	Code    ErrorCode
	ItemID  int64
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: item %d: %s: %v", e.Code, e.ItemID, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: item %d: %s", e.Code, e.ItemID, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsUnknownCategory reports whether err is an unknown category error.
func IsUnknownCategory(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Code == ErrCodeUnknownCategory
}

// IsUnknownAccessor reports whether err is an unknown accessor error.
func IsUnknownAccessor(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Code == ErrCodeUnknownAccessor
}
