// Package errclass defines the stable, machine-readable error classes shared
// by the orchestration layer and the HTTP boundary.
package errclass

import (
	"errors"
	"fmt"
)

// Error is an error class identified by Code. Two errors match under
// errors.Is when their codes are equal, whatever their messages.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithMessage returns a new Error with the same Code and the given message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg}
}

// WithMessagef returns a new Error with a formatted message.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrConfiguration        = &Error{Code: "E_CONFIGURATION"}
	ErrDecryption           = &Error{Code: "E_DECRYPTION"}
	ErrStoreUnreadable      = &Error{Code: "E_STORE_UNREADABLE"}
	ErrAuthenticationFailed = &Error{Code: "E_AUTHENTICATION_FAILED"}
	ErrCapExceeded          = &Error{Code: "E_CAP_EXCEEDED"}
	ErrQtyExceeded          = &Error{Code: "E_QTY_EXCEEDED"}
	ErrInvalidLimits        = &Error{Code: "E_INVALID_LIMITS"}
	ErrApprovalNotFound     = &Error{Code: "E_APPROVAL_NOT_FOUND"}
	ErrApprovalDenied       = &Error{Code: "E_APPROVAL_DENIED"}
	ErrApprovalRequired     = &Error{Code: "E_APPROVAL_REQUIRED"}
	ErrUnsupportedSite      = &Error{Code: "E_UNSUPPORTED_SITE"}
	ErrUpstream             = &Error{Code: "E_UPSTREAM"}
	ErrUpstreamTimeout      = &Error{Code: "E_UPSTREAM_TIMEOUT"}
	ErrNoTokenFound         = &Error{Code: "E_NO_TOKEN_FOUND"}
	ErrNoDecisionFound      = &Error{Code: "E_NO_DECISION_FOUND"}
	ErrDuplicateDecision    = &Error{Code: "E_DUPLICATE_DECISION"}
	ErrInvalidToken         = &Error{Code: "E_INVALID_TOKEN"}
	ErrInvalidRequest       = &Error{Code: "E_INVALID_REQUEST"}
)

// IsLimitExceeded reports whether err is a cap or quantity violation.
func IsLimitExceeded(err error) bool {
	return errors.Is(err, ErrCapExceeded) || errors.Is(err, ErrQtyExceeded)
}

// IsParseError reports whether err means an inbound message could not be read
// as a decision.
func IsParseError(err error) bool {
	return errors.Is(err, ErrNoTokenFound) || errors.Is(err, ErrNoDecisionFound)
}

// Message returns the human-readable part of err, falling back to err.Error()
// for errors that are not classed.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
