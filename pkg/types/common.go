package types

import (
	"errors"
)

// Error represents an error with additional context
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new error with code and message
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with code and message
func WrapError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// coder is implemented by the typed domain errors (invalid channel,
// oversize message, busy channel, connect timeout) so they can be
// classified without importing their packages.
type coder interface {
	Code() string
}

// IsErrCode checks if an error, or any error it wraps, has a specific error code
func IsErrCode(err error, code string) bool {
	return err != nil && GetErrorCode(err) == code
}

// GetErrorCode returns the code of the outermost coded error in the chain
func GetErrorCode(err error) string {
	for err != nil {
		switch e := err.(type) {
		case *Error:
			return e.Code
		case coder:
			return e.Code()
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// Common error codes
const (
	ErrCodeInvalidChannel  = "INVALID_CHANNEL"
	ErrCodeMessageTooLarge = "MESSAGE_TOO_LARGE"
	ErrCodeChannelBusy     = "CHANNEL_BUSY"
	ErrCodeConnectTimeout  = "CONNECT_TIMEOUT"
	ErrCodeBindRace        = "BIND_RACE"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeInvalid         = "INVALID"
	ErrCodeInvalidArgument = "INVALID_ARGUMENT"
	ErrCodeInternal        = "INTERNAL"
	ErrCodeUnavailable     = "UNAVAILABLE"
	ErrCodeCanceled        = "CANCELED"
)
