package coupon

import (
	"errors"
	"fmt"
)

// Code classifies errors returned by the admin operations so callers can
// branch on them.
type Code string

const (
	CodeUnauthenticated Code = "unauthenticated"
	CodeInvalidArgument Code = "invalid-argument"
	CodeNotFound        Code = "not-found"
	CodeInternal        Code = "internal"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code carried by err, or CodeInternal for any other
// non-nil error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
