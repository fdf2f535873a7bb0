package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"supportdesk/pkg/types"
)

const (
	routeMyThreads     = "/api/support/threads/my"
	routeThreads       = "/api/support/threads"
	routeThread        = "/api/support/threads/{id}"
	routeThreadMessage = "/api/support/threads/{id}/messages"
	routeThreadRating  = "/api/support/threads/{id}/rating"
)

func threadPath(id int64) string {
	return fmt.Sprintf("/api/support/threads/%d", id)
}

func pageQuery(page, size int) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	return q
}

// ListMyThreads returns one page of the caller's threads.
func (c *Client) ListMyThreads(ctx context.Context, page, size int) (*types.Page[types.Thread], error) {
	var out types.Page[types.Thread]
	if err := c.doJSON(ctx, http.MethodGet, routeMyThreads, routeMyThreads, pageQuery(page, size), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateThread opens a thread with its first message.
func (c *Client) CreateThread(ctx context.Context, req types.CreateThreadRequest) (*types.Thread, error) {
	if req.Attachments == nil {
		req.Attachments = []string{}
	}
	var out types.Thread
	if err := c.doJSON(ctx, http.MethodPost, routeThreads, routeThreads, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetThread returns a thread with its messages. Students and managers share this endpoint.
func (c *Client) GetThread(ctx context.Context, threadID int64) (*types.Thread, error) {
	var out types.Thread
	if err := c.doJSON(ctx, http.MethodGet, routeThread, threadPath(threadID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage posts a student message and returns the stored copy.
func (c *Client) SendMessage(ctx context.Context, threadID int64, req types.SendMessageRequest) (*types.Message, error) {
	if req.Attachments == nil {
		req.Attachments = []string{}
	}
	var out types.Message
	if err := c.doJSON(ctx, http.MethodPost, routeThreadMessage, threadPath(threadID)+"/messages", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitRating posts feedback for a thread.
func (c *Client) SubmitRating(ctx context.Context, threadID int64, req types.RatingRequest) (*types.Rating, error) {
	var out types.Rating
	if err := c.doJSON(ctx, http.MethodPost, routeThreadRating, threadPath(threadID)+"/rating", nil, req, &out); err != nil {
		return nil, err
	}
	if out.Rating == 0 {
		// Some deployments answer with an empty body.
		out.Rating = req.Rating
		out.Comment = req.Comment
	}
	return &out, nil
}
