package store

import "errors"

var (
	ErrNotAuthenticated = errors.New("sign in to use support chat")
	ErrNoActiveThread   = errors.New("no active support thread")
	ErrInvalidThreadID  = errors.New("invalid thread id")
)
