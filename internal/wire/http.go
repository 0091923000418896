package wire

// ListNotificationsResponse is the HTTP GET /v1/notifications response body.
type ListNotificationsResponse struct {
	// Notifications is the requested page, newest first.
	Notifications []Notification `json:"notifications"`
	// Total is the total number of notifications available.
	Total int `json:"total"`
}

// UnreadCountResponse is the HTTP GET /v1/notifications/unread-count response body.
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// ListMessagesResponse is the HTTP GET /v1/messages response body.
type ListMessagesResponse struct {
	// Messages are the most recent chat messages, oldest first.
	Messages []ChatMessage `json:"messages"`
}

// OnlineUsersResponse is the HTTP GET /v1/presence response body.
type OnlineUsersResponse struct {
	UserIDs []string `json:"userIds"`
}

// MarkReadRequest is the HTTP POST /v1/notifications/read request body.
type MarkReadRequest struct {
	IDs []string `json:"ids"`
}

// ArchiveRequest is the HTTP POST /v1/notifications/archive request body.
type ArchiveRequest struct {
	IDs []string `json:"ids"`
}

// BulkDeleteRequest is the HTTP POST /v1/notifications/bulk-delete request body.
//
// Bulk delete is a privileged operation; the server enforces authority.
type BulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

// Task is an assigned-task row returned by the task list endpoint.
type Task struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	DueAt     int64  `json:"dueAt,omitempty"`
}

// ListTasksResponse is the HTTP GET /v1/tasks/assigned response body.
type ListTasksResponse struct {
	Tasks []Task `json:"tasks"`
}

// Profile is the HTTP GET /v1/profile response body.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	// CanModerate is the server-asserted role flag gating privileged
	// operations. Advisory for UI gating only; authority stays server-side.
	CanModerate bool `json:"canModerate"`
}

// AssistRequest is the HTTP POST /v1/assist request body.
type AssistRequest struct {
	// SessionID is a client-generated opaque conversation id.
	SessionID string `json:"sessionId"`
	Question  string `json:"question"`
}

// AssistResponse is the HTTP POST /v1/assist response body.
type AssistResponse struct {
	Answer string `json:"answer"`
}
