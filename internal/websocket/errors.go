package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed   = errors.New("connection closed")
	ErrWriteTimeout       = errors.New("write timeout")
	ErrInvalidCredentials = errors.New("credentials need a positive user id and a known role")
)

// Registry-related errors
var (
	ErrNilConnection              = errors.New("connection cannot be nil")
	ErrConnectionNotAuthenticated = errors.New("connection must be authenticated before registration")
	ErrConnectionNotRegistered    = errors.New("connection is not registered")
	ErrDuplicateSubscription      = errors.New("subscription id already in use on this connection")
	ErrSubscriptionNotFound       = errors.New("subscription not found")
)

// Handler-related errors
var (
	ErrMissingToken       = errors.New("missing bearer token")
	ErrInvalidToken       = errors.New("invalid bearer token")
	ErrNotConnected       = errors.New("CONNECT frame required first")
	ErrMissingHeader      = errors.New("required header missing")
	ErrDestinationDenied  = errors.New("destination not available to this user")
	ErrUnsupportedCommand = errors.New("unsupported command")
)
