package dilemma

import "errors"

var (
	ErrSessionComplete = errors.New("session already complete")
	ErrAlreadyStarted  = errors.New("session already started")
	ErrNotStarted      = errors.New("session not started")
	ErrInvalidDecision = errors.New("invalid decision")
)

type InvalidStateError string

func (e InvalidStateError) Error() string { return "invalid state: " + string(e) }

func ErrInvalidState(msg string) error { return InvalidStateError(msg) }
