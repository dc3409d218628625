package domain

import "errors"

var (
	// ErrUnauthorized is returned when the role claim on a message does not
	// permit the requested action.
	ErrUnauthorized = errors.New("role not authorized for action")
	// ErrInvalidState is returned when a control action is not valid from the
	// session's current lifecycle state.
	ErrInvalidState = errors.New("action not valid in current session state")
	// ErrNotFound indicates an unknown session, participant, question or connection.
	ErrNotFound = errors.New("not found")
	// ErrWindowClosed is returned when an answer arrives outside the open question window.
	ErrWindowClosed = errors.New("answer window closed")
	// ErrDuplicateAnswer indicates a second submission for the same
	// (participant, question) pair. Callers treat it as idempotent success.
	ErrDuplicateAnswer = errors.New("answer already submitted")
	// ErrTransportFailure indicates the pub/sub backend rejected a publish or subscribe.
	ErrTransportFailure = errors.New("transport failure")
	// ErrPersistence wraps any storage failure. Never retried automatically.
	ErrPersistence = errors.New("persistence failure")
)
