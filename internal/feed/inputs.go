package feed

import "github.com/livefeed/livefeed-go/internal/wire"

// Input is an item delivered to the reconciler loop.
//
// Inputs are either events (observations from the transport, snapshot loader,
// or ticker) or commands (requests from callers). The reducer applies them
// strictly in arrival order.
type Input interface {
	isInput()
}

// ---- Lifecycle events ----

// EvConnected reports that the transport channel came up.
type EvConnected struct {
	NowMs int64
}

// EvDisconnected reports that the transport channel dropped.
type EvDisconnected struct {
	Reason string
	// Final is true when the channel will not reconnect (explicit close or
	// authentication failure).
	Final bool
}

// EvBaselineLoaded carries the snapshot loader result.
//
// Sections that failed to load are listed in Degraded and leave the previous
// collection contents untouched.
type EvBaselineLoaded struct {
	Notifications []wire.Notification
	Messages      []wire.ChatMessage
	OnlineUsers   []string
	Profile       wire.Profile

	HasNotifications bool
	HasMessages      bool
	HasPresence      bool
	HasProfile       bool

	// ServerUnread is the server-reported unread counter, kept only to detect
	// drift against the derived count. It never feeds the state.
	ServerUnread int

	Degraded []string
	NowMs    int64
}

// EvTick drives expiry sweeps: typing indicators, tombstones, pending marks,
// and optimistic command deadlines.
type EvTick struct {
	NowMs int64
}

// ---- Inbound server events ----

// EvNotification upserts a notification (general or personal).
type EvNotification struct {
	N     wire.Notification
	NowMs int64
}

// EvUnreadBacklog upserts the unread personal notifications delivered on connect.
type EvUnreadBacklog struct {
	Notifications []wire.Notification
	NowMs         int64
}

// EvNotificationRead marks a notification read.
type EvNotificationRead struct {
	ID    string
	AtMs  int64
	NowMs int64
}

// EvNotificationArchived marks a notification archived.
type EvNotificationArchived struct {
	ID    string
	AtMs  int64
	NowMs int64
}

// EvNotificationDeleted removes a notification (deleted by another actor).
type EvNotificationDeleted struct {
	ID    string
	NowMs int64
}

// EvChatMessage upserts a chat message.
type EvChatMessage struct {
	M     wire.ChatMessage
	NowMs int64
}

// EvMessageAck confirms an optimistic send and swaps in the server id.
type EvMessageAck struct {
	ClientMsgID string
	ServerMsgID string
	CreatedAt   int64
	NowMs       int64
}

// EvMessageDeleted removes a message and tombstones its id.
type EvMessageDeleted struct {
	ID    string
	NowMs int64
}

// EvAllMessagesDeleted clears the message collection and tombstones all ids.
type EvAllMessagesDeleted struct {
	NowMs int64
}

// EvPresence replaces the presence set wholesale.
type EvPresence struct {
	UserIDs []string
}

// EvTypingStart adds or refreshes a typing indicator.
type EvTypingStart struct {
	UserID string
	NowMs  int64
}

// EvTypingStop removes a typing indicator.
type EvTypingStop struct {
	UserID string
}

// ---- Command results (posted by the engine after effect execution) ----

// EvCommandAcked confirms an optimistic REST command.
type EvCommandAcked struct {
	CmdID string
}

// EvCommandFailed rolls back an optimistic REST command.
type EvCommandFailed struct {
	CmdID string
	Err   error
}

// EvSendFailed rolls back an optimistic chat send whose transmit failed
// outright, without waiting for the ack deadline.
type EvSendFailed struct {
	ClientMsgID string
	Err         error
}

// ---- Commands ----

// CmdSendMessage applies an optimistic chat send and emits it.
type CmdSendMessage struct {
	ClientMsgID string
	Body        string
	SenderID    string
	SenderName  string
	SenderGroup string
	NowMs       int64
	Reply       chan error
}

// CmdMarkRead optimistically marks notifications read and issues the REST call.
type CmdMarkRead struct {
	CmdID string
	IDs   []string
	NowMs int64
	Reply chan error
}

// CmdArchive optimistically archives notifications and issues the REST call.
type CmdArchive struct {
	CmdID string
	IDs   []string
	NowMs int64
	Reply chan error
}

// CmdDeleteNotifications optimistically deletes notifications (privileged).
type CmdDeleteNotifications struct {
	CmdID string
	IDs   []string
	NowMs int64
	Reply chan error
}

// CmdDeleteMessage optimistically removes a message and emits the delete.
type CmdDeleteMessage struct {
	CmdID string
	ID    string
	NowMs int64
	Reply chan error
}

// CmdDeleteAllMessages optimistically clears the room (privileged).
type CmdDeleteAllMessages struct {
	CmdID string
	NowMs int64
	Reply chan error
}

// CmdTyping emits a typing start/stop for the local user.
type CmdTyping struct {
	Started bool
	Reply   chan error
}

func (EvConnected) isInput()            {}
func (EvDisconnected) isInput()         {}
func (EvBaselineLoaded) isInput()       {}
func (EvTick) isInput()                 {}
func (EvNotification) isInput()         {}
func (EvUnreadBacklog) isInput()        {}
func (EvNotificationRead) isInput()     {}
func (EvNotificationArchived) isInput() {}
func (EvNotificationDeleted) isInput()  {}
func (EvChatMessage) isInput()          {}
func (EvMessageAck) isInput()           {}
func (EvMessageDeleted) isInput()       {}
func (EvAllMessagesDeleted) isInput()   {}
func (EvPresence) isInput()             {}
func (EvTypingStart) isInput()          {}
func (EvTypingStop) isInput()           {}
func (EvCommandAcked) isInput()         {}
func (EvCommandFailed) isInput()        {}
func (EvSendFailed) isInput()           {}
func (CmdSendMessage) isInput()         {}
func (CmdMarkRead) isInput()            {}
func (CmdArchive) isInput()             {}
func (CmdDeleteNotifications) isInput() {}
func (CmdDeleteMessage) isInput()       {}
func (CmdDeleteAllMessages) isInput()   {}
func (CmdTyping) isInput()              {}
