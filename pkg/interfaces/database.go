package interfaces

import (
	"context"

	"supportdesk/pkg/types"
)

// ThreadRepository handles all persistence for threads, messages and ratings
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// enables consistent transaction handling and connection management
type ThreadRepository interface {
	// CreateThread stores a thread with its first message and assigns both ids
	CreateThread(ctx context.Context, thread *types.Thread, first *types.Message) error

	// GetThread returns the thread with messages in insertion order and its rating
	GetThread(ctx context.Context, threadID int64) (*types.Thread, error)

	// ListThreads returns one page without messages, newest activity first, plus the total count
	ListThreads(ctx context.Context, query types.ThreadQuery) ([]types.Thread, int64, error)

	// UpdateThread persists status, manager, unread flags and summary fields
	UpdateThread(ctx context.Context, thread *types.Thread) error

	// AppendMessage stores a message and the thread's new summary fields in one transaction
	// FUNCTIONAL DISCOVERY: Message storage and preview update must not diverge
	AppendMessage(ctx context.Context, thread *types.Thread, message *types.Message) error

	// SaveRating replaces the thread's rating
	SaveRating(ctx context.Context, threadID int64, rating *types.Rating) error

	// HealthCheck verifies database connectivity
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}
