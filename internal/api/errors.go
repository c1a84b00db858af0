// Package api defines the stable error codes and response envelope shared by
// the routing layer, the HTTP API and the CLI. No exception crosses the
// external interface unconverted: everything becomes a coded Error.
package api

import (
	"errors"
	"fmt"
)

// Code identifies a failure class. Codes are part of the external contract
// and must stay stable.
type Code string

const (
	CodeInvalidHandle         Code = "InvalidHandle"
	CodeSessionNotFound       Code = "SessionNotFound"
	CodeAmbiguousSession      Code = "AmbiguousSession"
	CodeAgentRequired         Code = "AgentRequired"
	CodeGuestThreadNotAllowed Code = "GuestThreadNotAllowed"
	CodeGuestUserDmNotAllowed Code = "GuestUserDmNotAllowed"
	CodeRecipientsRequired    Code = "RecipientsRequired"
	CodeRecipientNotFound     Code = "RecipientNotFound"
	CodeServiceUnavailable    Code = "ServiceUnavailable"
	CodeSendMessageFailed     Code = "SendMessageFailed"
)

// Error is a coded failure with an optional structured payload (candidate
// prefixes for ambiguity, available recipient names, the original message
// text for send failures).
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New returns a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf returns a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithData attaches a structured payload.
func (e *Error) WithData(data any) *Error {
	e.Data = data
	return e
}

// AsError extracts a coded error, or nil when err carries no code.
func AsError(err error) *Error {
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	return nil
}

// CodeOf returns the error's code, or "" for uncoded errors.
func CodeOf(err error) Code {
	if coded := AsError(err); coded != nil {
		return coded.Code
	}
	return ""
}
