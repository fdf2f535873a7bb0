package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrThreadNotFound = errors.New("thread not found")
	ErrUnauthorized   = errors.New("unauthorized access")
	ErrForbidden      = errors.New("forbidden")
)
