package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"supportdesk/pkg/types"
)

const (
	routeManagerThreads  = "/api/support/manager/threads"
	routeManagerClaim    = "/api/support/manager/threads/{id}/claim"
	routeManagerMessage  = "/api/support/manager/threads/{id}/messages"
	routeManagerStatus   = "/api/support/manager/threads/{id}/status"
	routeManagerTransfer = "/api/support/manager/threads/{id}/transfer"
)

func managerThreadPath(id int64, action string) string {
	return fmt.Sprintf("/api/support/manager/threads/%d/%s", id, action)
}

// FilterQuery renders a manager list filter. ALL, a blank keyword and mineOnly=false are omitted.
func FilterQuery(f types.ThreadFilter) url.Values {
	q := pageQuery(f.Page, f.Size)
	if f.Status != "" && f.Status != types.StatusAll {
		q.Set("status", f.Status)
	}
	if kw := strings.TrimSpace(f.StudentKeyword); kw != "" {
		q.Set("studentKeyword", kw)
	}
	if f.MineOnly {
		q.Set("mineOnly", "true")
	}
	return q
}

// ManagerListThreads returns one filtered page of the inbox.
func (c *Client) ManagerListThreads(ctx context.Context, filter types.ThreadFilter) (*types.Page[types.Thread], error) {
	var out types.Page[types.Thread]
	if err := c.doJSON(ctx, http.MethodGet, routeManagerThreads, routeManagerThreads, FilterQuery(filter), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClaimThread assigns the caller as the thread's manager.
func (c *Client) ClaimThread(ctx context.Context, threadID int64) (*types.Thread, error) {
	var out types.Thread
	if err := c.doJSON(ctx, http.MethodPost, routeManagerClaim, managerThreadPath(threadID, "claim"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ManagerSendMessage posts a manager reply and returns the stored copy.
func (c *Client) ManagerSendMessage(ctx context.Context, threadID int64, req types.SendMessageRequest) (*types.Message, error) {
	if req.Attachments == nil {
		req.Attachments = []string{}
	}
	var out types.Message
	if err := c.doJSON(ctx, http.MethodPost, routeManagerMessage, managerThreadPath(threadID, "messages"), nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChangeStatus sets the thread status.
func (c *Client) ChangeStatus(ctx context.Context, threadID int64, status types.ThreadStatus) (*types.Thread, error) {
	var out types.Thread
	body := types.StatusRequest{Status: status}
	if err := c.doJSON(ctx, http.MethodPost, routeManagerStatus, managerThreadPath(threadID, "status"), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransferThread hands the thread to another manager.
func (c *Client) TransferThread(ctx context.Context, threadID int64, newManagerID int64) (*types.Thread, error) {
	var out types.Thread
	body := types.TransferRequest{NewManagerID: newManagerID}
	if err := c.doJSON(ctx, http.MethodPost, routeManagerTransfer, managerThreadPath(threadID, "transfer"), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
