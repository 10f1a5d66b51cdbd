// Package bridgeerr defines the bridge-wide error taxonomy. Every error that
// crosses a component boundary should carry one of these kinds so callers
// can react (retry, drop, escalate) without string-matching messages.
package bridgeerr

import "github.com/pkg/errors"

// Kind identifies the class of failure per the error handling design.
type Kind string

const (
	Config        Kind = "config"
	Database      Kind = "database"
	SideM         Kind = "side_m"
	SideZ         Kind = "side_z"
	Network       Kind = "network"
	Parse         Kind = "parse"
	IO            Kind = "io"
	JSON          Kind = "json"
	YAML          Kind = "yaml"
	RoomNotFound  Kind = "room_not_found"
	UserNotFound  Kind = "user_not_found"
	InvalidState  Kind = "invalid_state"
	NotImplemented Kind = "not_implemented"

	// Store failure kinds, named separately from the general taxonomy
	// above because callers of the Mapping Store need to distinguish them
	// precisely (e.g. Connection errors retry, NotFound does not).
	Connection    Kind = "connection"
	Query         Kind = "query"
	NotFound      Kind = "not_found"
	InvalidData   Kind = "invalid_data"
	Transaction   Kind = "transaction"
)

// Error wraps an underlying cause with a Kind.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// New wraps cause with kind, preserving the stack via pkg/errors.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, cause: errors.WithStack(cause)}
}

// Wrap wraps cause with kind and a message.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, cause: errors.Wrap(cause, message)}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
