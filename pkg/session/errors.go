package session

import "fmt"

// ErrorKind is the error taxonomy surfaced to transports. Kinds map 1:1 to
// user-visible error categories; anything not in the list is a bug.
type ErrorKind string

const (
	KindAuthRequired        ErrorKind = "auth_required"
	KindInvalidInput        ErrorKind = "invalid_input"
	KindSessionNotFound     ErrorKind = "session_not_found"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindNarratorUnavailable ErrorKind = "narrator_unavailable"
	// KindParsingDegraded is internal only: extraction problems are absorbed
	// and the turn proceeds on prior state. It never reaches a client.
	KindParsingDegraded    ErrorKind = "parsing_degraded"
	KindPersistenceFailure ErrorKind = "persistence_failure"
)

// Error is a categorized session error. Transports serialize it as a
// structured {category, message} descriptor.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// E builds a categorized error, optionally wrapping a cause.
func E(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the category of an error; unknown errors default to
// persistence failure, the catch-all for internal faults.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok { //nolint:errorlint // top-level kind wins
		return e.Kind
	}
	return KindPersistenceFailure
}

// Descriptor is the wire shape of a session error.
type Descriptor struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// Describe converts an error into its user-visible descriptor.
func Describe(err error) Descriptor {
	if err == nil {
		return Descriptor{}
	}
	if e, ok := err.(*Error); ok { //nolint:errorlint
		return Descriptor{Category: string(e.Kind), Message: e.Message}
	}
	return Descriptor{Category: string(KindPersistenceFailure), Message: "internal error"}
}
