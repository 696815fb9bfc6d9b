package model

import "errors"

var (
	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMaxSessions is returned when session creation would exceed the
	// configured maximum of concurrent sessions.
	ErrMaxSessions = errors.New("max sessions reached")

	// ErrSessionDead is returned when input is sent to a session whose
	// subprocess has exited.
	ErrSessionDead = errors.New("session is dead")

	// ErrSessionDestroyed is returned when an operation targets a
	// destroyed session.
	ErrSessionDestroyed = errors.New("session is destroyed")

	// ErrNotResumable is returned when a resume is attempted for a
	// session with no persisted conversation state.
	ErrNotResumable = errors.New("session is not resumable")

	// ErrWorkingDirectory is returned when the requested working
	// directory does not exist or is not a directory.
	ErrWorkingDirectory = errors.New("working directory does not exist")

	// ErrContentRequired is returned when an input command is missing
	// its content field.
	ErrContentRequired = errors.New("content is required")

	// ErrUnknownInputType is returned when an input command carries an
	// unrecognized type.
	ErrUnknownInputType = errors.New("unknown message type")
)
