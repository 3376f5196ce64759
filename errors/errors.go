// Package errors provides the application-specific error type used across
// the pool server. It follows the same shape as a typed error seen
// elsewhere in the pack (a Code, a Message, an optionally wrapped cause),
// minus any transport-specific status-code bridging: this service has no
// gRPC surface, so there is nothing to translate error codes into.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code identifies the broad class of an Error.
type Code int

const (
	CodeUnknown Code = iota
	CodeInvalidArgument
	CodeConfiguration
	CodeProtocolViolation
	CodeCodec
	CodeBadHash
	CodeBadWork
	CodeBadPayoutInfo
	CodeNotFound
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case CodeConfiguration:
		return "CONFIGURATION"
	case CodeProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case CodeCodec:
		return "CODEC"
	case CodeBadHash:
		return "BAD_HASH"
	case CodeBadWork:
		return "BAD_WORK"
	case CodeBadPayoutInfo:
		return "BAD_PAYOUT_INFO"
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Error is the typed error that this module's packages build with New.
type Error struct {
	code       Code
	message    string
	wrappedErr error
}

// New builds an Error. If the last element of params is itself an error, it
// is recorded as the wrapped cause and excluded from the message formatting;
// the remaining params are passed to fmt.Sprintf against message.
func New(code Code, message string, params ...interface{}) *Error {
	var wrapped error

	if n := len(params); n > 0 {
		if err, ok := params[n-1].(error); ok {
			wrapped = err
			params = params[:n-1]
		}
	}

	if len(params) > 0 {
		message = fmt.Sprintf(message, params...)
	}

	return &Error{code: code, message: message, wrappedErr: wrapped}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.wrappedErr == nil {
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
	return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.wrappedErr)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.wrappedErr
}

func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var te *Error
	if stderrors.As(target, &te) {
		return e.code == te.code
	}
	return false
}

// Is reports whether err matches target per standard Go error matching.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As reports whether err can be assigned to target per standard Go error matching.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// Join mirrors errors.Join for callers that need to collapse several
// failures into one message.
func Join(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	return stderrors.Join(nonNil...)
}

// Sentinel errors for conditions that recur across packages.
var (
	ErrProtocolViolation = New(CodeProtocolViolation, "protocol violation")
	ErrBadHash           = New(CodeBadHash, "insufficient proof of work")
	ErrBadWork           = New(CodeBadWork, "malformed weak block delta")
	ErrBadPayoutInfo     = New(CodeBadPayoutInfo, "invalid coinbase payout")
)
