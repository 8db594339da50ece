package session

import "errors"

var (
	// ErrInvalidState indicates an event arrived for a call in a state that
	// does not accept it. Logged and discarded, never fatal.
	ErrInvalidState = errors.New("event not valid in current session state")

	// ErrSessionClosed indicates the session has reached its terminal state.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionExists indicates a session already exists for the call ID.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound indicates no session exists for the call ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRegistryClosed indicates the registry is shutting down.
	ErrRegistryClosed = errors.New("session registry closed")
)
