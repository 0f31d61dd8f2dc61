// Package cperr gives every control plane package a small, shared error
// taxonomy instead of leaking raw driver/transport errors to callers.
package cperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way callers (HTTP handlers, executors,
// reapers) need to branch on: retry, surface to the operator, or treat as
// a normal not-found / precondition-failed outcome.
type Kind string

const (
	KindTransientExternal    Kind = "transient_external"
	KindPermanentExternal    Kind = "permanent_external"
	KindAuthorizationDenied  Kind = "authorization_denied"
	KindNotFound             Kind = "not_found"
	KindPreconditionViolated Kind = "precondition_violated"
	KindInternal             Kind = "internal"
)

// Error wraps an underlying cause with a Kind and a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

func PreconditionViolated(message string) *Error {
	return New(KindPreconditionViolated, message)
}

func AuthorizationDenied(message string) *Error {
	return New(KindAuthorizationDenied, message)
}

func TransientExternal(message string, cause error) *Error {
	return Wrap(KindTransientExternal, message, cause)
}

func PermanentExternal(message string, cause error) *Error {
	return Wrap(KindPermanentExternal, message, cause)
}

func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, message, cause)
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

func IsNotFound(err error) bool             { return Is(err, KindNotFound) }
func IsPreconditionViolated(err error) bool { return Is(err, KindPreconditionViolated) }
func IsAuthorizationDenied(err error) bool  { return Is(err, KindAuthorizationDenied) }
func IsTransientExternal(err error) bool    { return Is(err, KindTransientExternal) }
