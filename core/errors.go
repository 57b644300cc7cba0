package core

import (
	"errors"
	"fmt"
)

var (
	ErrTransport                  = errors.New("transport error")
	ErrInvalidCredential          = errors.New("invalid credential")
	ErrWalletUnavailable          = errors.New("wallet unavailable")
	ErrSignatureRejected          = errors.New("signature rejected")
	ErrChallengeExpiredOrConsumed = errors.New("challenge expired or consumed")
	ErrChallengeRequestFailed     = errors.New("challenge request failed")
	ErrWalletNotRegistered        = errors.New("wallet not registered")
	ErrInvalidSignature           = errors.New("invalid signature")
	ErrAddressMismatch            = errors.New("address mismatch")
	ErrPreconditionFailed         = errors.New("precondition failed")

	// ErrNoCredential is returned by session stores when nothing is stored
	ErrNoCredential = errors.New("no stored credential")

	// ErrSuperseded is returned when a newer attempt or a logout took over
	// before this attempt could commit. The session was not modified.
	ErrSuperseded = errors.New("attempt superseded")
)

// Error is a classified failure of one operation. Kind is one of the
// sentinel errors above; Message is the server-provided text, if any.
type Error struct {
	Op         string
	Kind       error
	Message    string
	StatusCode int
	Err        error
}

// NewError builds an Error of the given kind
func NewError(op string, kind error, message string) *Error {
	return &Error{Op: op, Kind: kind, Message: message}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ServerMessage returns the first server-provided message found in err's chain
func ServerMessage(err error) string {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return ""
		}
		if e.Message != "" {
			return e.Message
		}
		err = e.Err
	}
	return ""
}
