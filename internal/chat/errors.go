package chat

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidMessage   ErrorCode = "INVALID_MESSAGE"
	ErrorInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrorStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("chat: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("chat: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// IsInvalid reports a request rejected before touching the store.
func IsInvalid(err error) bool {
	var e *Error
	return errors.As(err, &e) && (e.Code == ErrorInvalidMessage || e.Code == ErrorInvalidRequest)
}

func IsStoreUnavailable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == ErrorStoreUnavailable
}
