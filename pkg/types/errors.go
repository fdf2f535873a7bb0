package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-facing feedback before any request leaves the client
var (
	ErrTopicRequired      = errors.New("topic is required")
	ErrMessageRequired    = errors.New("message content cannot be empty")
	ErrMessageTooLong     = errors.New("message content exceeds 4000 characters")
	ErrTooManyAttachments = errors.New("at most 10 attachments per message")
	ErrInvalidAttachment  = errors.New("attachment URI cannot be empty")
	ErrInvalidRating      = errors.New("rating must be between 1 and 5")
	ErrInvalidStatus      = errors.New("invalid thread status")
	ErrInvalidManagerID   = errors.New("manager ID must be a positive number")
	ErrInvalidTransition  = errors.New("status transition not allowed")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrThreadClosed       = errors.New("thread is closed")
	ErrRequestInFlight    = errors.New("a request of this kind is already in flight")
)
