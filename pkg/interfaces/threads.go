package interfaces

import (
	"context"

	"supportdesk/pkg/types"
)

// ThreadService enforces the server-side thread rules
// ARCHITECTURAL DISCOVERY: Actor-first signatures keep authorization inside the
// service so every transport gets the same rules
type ThreadService interface {
	ListMine(ctx context.Context, student types.Actor, page, size int) (*types.Page[types.Thread], error)

	// ListForManager applies status, keyword and mine-only filters
	ListForManager(ctx context.Context, manager types.Actor, filter types.ThreadFilter) (*types.Page[types.Thread], error)

	// Create opens a NEW thread and publishes an alert for managers
	Create(ctx context.Context, student types.Actor, req types.CreateThreadRequest) (*types.Thread, error)

	// Get returns the thread and clears the viewer's unread flag
	Get(ctx context.Context, actor types.Actor, threadID int64) (*types.Thread, error)

	// PostMessage rejects CLOSED threads
	PostMessage(ctx context.Context, actor types.Actor, threadID int64, req types.SendMessageRequest) (*types.Message, error)

	Rate(ctx context.Context, student types.Actor, threadID int64, req types.RatingRequest) (*types.Rating, error)

	Claim(ctx context.Context, manager types.Actor, threadID int64) (*types.Thread, error)
	ChangeStatus(ctx context.Context, manager types.Actor, threadID int64, status types.ThreadStatus) (*types.Thread, error)
	Transfer(ctx context.Context, manager types.Actor, threadID int64, newManagerID int64) (*types.Thread, error)
}

// AlertPublisher fans a thread summary out to subscribed managers
type AlertPublisher interface {
	PublishThreadCreated(ctx context.Context, summary types.ThreadSummary) error
}
