package interfaces

import (
	"context"
	"io"

	"supportdesk/pkg/types"
)

// StudentAPI is the student side of the support REST API
// ARCHITECTURAL DISCOVERY: Store depends on this abstraction, not on HTTP,
// so tests can drive it with an in-memory fake
type StudentAPI interface {
	// ListMyThreads returns one page of the caller's threads
	ListMyThreads(ctx context.Context, page, size int) (*types.Page[types.Thread], error)

	// CreateThread opens a thread with its first message
	CreateThread(ctx context.Context, req types.CreateThreadRequest) (*types.Thread, error)

	// GetThread returns a thread with its full message list
	GetThread(ctx context.Context, threadID int64) (*types.Thread, error)

	// SendMessage appends a message and returns the stored copy
	// FUNCTIONAL DISCOVERY: The returned message is the only one the client may display
	SendMessage(ctx context.Context, threadID int64, req types.SendMessageRequest) (*types.Message, error)

	SubmitRating(ctx context.Context, threadID int64, req types.RatingRequest) (*types.Rating, error)

	// UploadImage stores an attachment and returns its URL
	UploadImage(ctx context.Context, filename string, content io.Reader) (string, error)
}

// ManagerAPI is the manager side of the support REST API
type ManagerAPI interface {
	ManagerListThreads(ctx context.Context, filter types.ThreadFilter) (*types.Page[types.Thread], error)
	GetThread(ctx context.Context, threadID int64) (*types.Thread, error)

	// ClaimThread assigns the caller. Last claim wins.
	ClaimThread(ctx context.Context, threadID int64) (*types.Thread, error)
	ManagerSendMessage(ctx context.Context, threadID int64, req types.SendMessageRequest) (*types.Message, error)
	ChangeStatus(ctx context.Context, threadID int64, status types.ThreadStatus) (*types.Thread, error)
	TransferThread(ctx context.Context, threadID int64, newManagerID int64) (*types.Thread, error)
}
