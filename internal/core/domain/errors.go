package domain

import "errors"

var (
	ErrEventNotFound     = errors.New("event not found")
	ErrItemNotFound      = errors.New("item not found")
	ErrItemRemoved       = errors.New("item removed")
	ErrReadOnlySession   = errors.New("session is read-only")
	ErrSessionNotLoaded  = errors.New("session not loaded")
	ErrSessionClosed     = errors.New("session closed")
	ErrInvalidTransition = errors.New("invalid interaction transition")
	ErrInvalidEventID    = errors.New("invalid event id")
	ErrNothingSelected   = errors.New("no item selected")
)
