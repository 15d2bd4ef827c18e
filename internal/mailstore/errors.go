package mailstore

import "errors"

var (
	// ErrParticipantNotFound means an identity did not resolve to a
	// known user for internal routing.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrInvalidThread means a thread reference was missing or
	// malformed.
	ErrInvalidThread = errors.New("invalid thread")
)
