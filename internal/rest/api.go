package rest

import (
	"context"
	"fmt"
	"net/url"

	"github.com/livefeed/livefeed-go/internal/wire"
)

const (
	// MaxPageSize is the largest notification page the server allows.
	MaxPageSize = 200
	// DefaultRecentMessages is how much chat history the baseline pulls.
	DefaultRecentMessages = 100
)

// Notifications fetches one page of notifications, newest first.
func (c *Client) Notifications(ctx context.Context, page, pageSize int) (wire.ListNotificationsResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	var out wire.ListNotificationsResponse
	path := fmt.Sprintf("/v1/notifications?page=%d&pageSize=%d", page, pageSize)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return wire.ListNotificationsResponse{}, err
	}
	return out, nil
}

// UnreadCount fetches the server-side unread counter.
//
// The reconciler derives its own counter from the collection; this value is
// only used to seed the UI before the baseline applies and to spot drift.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out wire.UnreadCountResponse
	if err := c.getJSON(ctx, "/v1/notifications/unread-count", &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// RecentMessages fetches the most recent chat messages, oldest first.
func (c *Client) RecentMessages(ctx context.Context, limit int) ([]wire.ChatMessage, error) {
	if limit < 1 {
		limit = DefaultRecentMessages
	}
	var out wire.ListMessagesResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/v1/messages?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// OnlineUsers fetches the current presence list.
func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	var out wire.OnlineUsersResponse
	if err := c.getJSON(ctx, "/v1/presence", &out); err != nil {
		return nil, err
	}
	return out.UserIDs, nil
}

// AssignedTasks fetches the caller's assigned-task list.
func (c *Client) AssignedTasks(ctx context.Context) ([]wire.Task, error) {
	var out wire.ListTasksResponse
	if err := c.getJSON(ctx, "/v1/tasks/assigned", &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// Profile fetches the user profile, including the server-asserted moderation
// role flag. The flag gates privileged UI only; authority stays server-side.
func (c *Client) Profile(ctx context.Context) (wire.Profile, error) {
	var out wire.Profile
	if err := c.getJSON(ctx, "/v1/profile", &out); err != nil {
		return wire.Profile{}, err
	}
	return out, nil
}

// MarkRead marks a batch of notifications as read.
func (c *Client) MarkRead(ctx context.Context, ids []string) error {
	return c.postJSON(ctx, "/v1/notifications/read", wire.MarkReadRequest{IDs: ids}, nil)
}

// Archive archives a batch of notifications.
func (c *Client) Archive(ctx context.Context, ids []string) error {
	return c.postJSON(ctx, "/v1/notifications/archive", wire.ArchiveRequest{IDs: ids}, nil)
}

// DeleteNotification deletes a single notification (privileged).
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	return c.deleteJSON(ctx, "/v1/notifications/"+url.PathEscape(id))
}

// BulkDelete deletes a batch of notifications (privileged).
func (c *Client) BulkDelete(ctx context.Context, ids []string) error {
	return c.postJSON(ctx, "/v1/notifications/bulk-delete", wire.BulkDeleteRequest{IDs: ids}, nil)
}
