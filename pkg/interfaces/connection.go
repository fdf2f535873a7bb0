package interfaces

import (
	"supportdesk/pkg/stomp"
	"supportdesk/pkg/types"
)

// Connection represents a STOMP-over-WebSocket client connection
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and alert fan-out
type Connection interface {
	// WriteFrame sends a frame to the client (thread-safe)
	// FUNCTIONAL DISCOVERY: Implementations use a single writer goroutine
	WriteFrame(frame stomp.Frame) error

	// Close closes the connection and cleans up resources
	Close() error

	// GetUserID returns the connected user's ID
	GetUserID() int64

	// GetRole returns the user's role ("student" or "manager")
	GetRole() string

	// IsAuthenticated returns true once the bearer token was accepted
	IsAuthenticated() bool

	// SetCredentials records the authenticated actor
	// TECHNICAL DISCOVERY: Separate authentication step allows the WebSocket
	// upgrade before the STOMP CONNECT frame arrives
	SetCredentials(actor types.Actor) error
}
