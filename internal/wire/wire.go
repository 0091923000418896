// Package wire defines the livefeed realtime protocol v1 contract.
//
// The envelope and payload types are shared between the transport channel and
// the reconciler. Body payloads are discriminated by the envelope `type`
// field and validated structurally on decode.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Inbound event types (wire-stable).
const (
	// TypeNotification delivers a general (broadcast) notification.
	TypeNotification = "notification"
	// TypePersonalNotification delivers a notification addressed to this user.
	TypePersonalNotification = "personal_notification"
	// TypeNotificationRead marks a notification as read (possibly by another device).
	TypeNotificationRead = "notification_read"
	// TypeNotificationArchived marks a notification as archived.
	TypeNotificationArchived = "notification_archived"
	// TypeNotificationDeleted confirms a notification deletion.
	TypeNotificationDeleted = "notification_deleted"

	// TypeChatMessage broadcasts an accepted chat message.
	TypeChatMessage = "chat_message"
	// TypeMessageAck acknowledges a chat send and returns the canonical server id.
	TypeMessageAck = "message_ack"
	// TypeMessageDeleted confirms a single message deletion.
	TypeMessageDeleted = "message_deleted"
	// TypeAllMessagesDeleted confirms a privileged clear of the whole room.
	TypeAllMessagesDeleted = "all_messages_deleted"

	// TypeOnlineUsers replaces the presence set wholesale.
	TypeOnlineUsers = "online_users"
	// TypeTypingStart reports a peer composing a message.
	TypeTypingStart = "typing_start"
	// TypeTypingStop reports a peer no longer composing.
	TypeTypingStop = "typing_stop"

	// TypeUnreadBacklog delivers unread personal notifications on connect.
	TypeUnreadBacklog = "unread_backlog"
	// TypeError is a generic server error envelope.
	TypeError = "error"
)

// Outbound event types (wire-stable).
const (
	// TypeMessageSend requests sending a new chat message.
	TypeMessageSend = "chat_message"
	// TypeMessageDelete requests deleting a single message (privileged for
	// messages not owned by the sender).
	TypeMessageDelete = "message_delete"
	// TypeAllMessagesDelete requests clearing the whole room (privileged).
	TypeAllMessagesDelete = "all_messages_delete"
)

// Notification priorities.
const (
	PriorityLow      = "low"
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Notification scopes.
const (
	ScopeGeneral  = "general"
	ScopePersonal = "personal"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	switch e.Type {
	case TypeNotification,
		TypePersonalNotification,
		TypeNotificationRead,
		TypeNotificationArchived,
		TypeNotificationDeleted,
		TypeChatMessage,
		TypeMessageAck,
		TypeMessageDeleted,
		TypeAllMessagesDeleted,
		TypeOnlineUsers,
		TypeTypingStart,
		TypeTypingStop,
		TypeUnreadBacklog,
		TypeError,
		TypeMessageDelete,
		TypeAllMessagesDelete:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// Notification is the notification record as carried on the wire.
//
// Timestamps are milliseconds since epoch; ReadAt/ArchivedAt are zero when the
// record is unread/unarchived.
type Notification struct {
	ID         string `json:"id" validate:"required"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Priority   string `json:"priority" validate:"omitempty,oneof=low normal high critical"`
	Scope      string `json:"scope" validate:"required,oneof=general personal"`
	TypeTag    string `json:"typeTag"`
	ProjectID  string `json:"projectId,omitempty"`
	TaskID     string `json:"taskId,omitempty"`
	CreatedAt  int64  `json:"createdAt" validate:"required"`
	ReadAt     int64  `json:"readAt,omitempty"`
	ArchivedAt int64  `json:"archivedAt,omitempty"`
}

// Personal reports whether the notification is addressed to this user.
func (n Notification) Personal() bool { return n.Scope == ScopePersonal }

// ChatMessage is a chat message as carried on the wire.
type ChatMessage struct {
	ID          string `json:"id" validate:"required"`
	SenderID    string `json:"senderId" validate:"required"`
	SenderName  string `json:"senderName"`
	SenderGroup string `json:"senderGroup,omitempty"`
	Body        string `json:"body"`
	CreatedAt   int64  `json:"createdAt" validate:"required"`
	// ClientMsgID echoes the sender's idempotency key when present, so the
	// originating client can match the broadcast against its pending send.
	ClientMsgID string `json:"clientMsgId,omitempty"`
	// Pending is a client-side flag for optimistic sends; never serialized.
	Pending bool `json:"-"`
}

// NotificationRefPayload carries a notification id for read/archive/delete events.
type NotificationRefPayload struct {
	ID string `json:"id" validate:"required"`
	// AtMs is the server-side mutation time in ms since epoch (optional).
	AtMs int64 `json:"atMs,omitempty"`
}

// MessageSendPayload requests sending a chat message.
type MessageSendPayload struct {
	ClientMsgID string `json:"clientMsgId" validate:"required"`
	Body        string `json:"body" validate:"required"`
}

// MessageAckPayload acknowledges a send request and returns canonical ids.
type MessageAckPayload struct {
	ClientMsgID string `json:"clientMsgId" validate:"required"`
	ServerMsgID string `json:"serverMsgId" validate:"required"`
	CreatedAt   int64  `json:"createdAt,omitempty"`
}

// MessageRefPayload carries a message id for delete events.
type MessageRefPayload struct {
	ID string `json:"id" validate:"required"`
}

// OnlineUsersPayload replaces the presence set wholesale.
type OnlineUsersPayload struct {
	UserIDs []string `json:"userIds"`
}

// TypingPayload reports a peer starting or stopping composition.
type TypingPayload struct {
	UserID string `json:"userId" validate:"required"`
}

// UnreadBacklogPayload delivers unread personal notifications on connect.
type UnreadBacklogPayload struct {
	Notifications []Notification `json:"notifications" validate:"dive"`
}

// ErrorPayload is a generic server error payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var validate = validator.New()

// DecodePayload unmarshals and validates the payload for the envelope type.
//
// The returned value is one of the typed payload structs above (or nil for
// types without a payload). An error means the event is malformed and must be
// dropped without disturbing the stream.
func DecodePayload(env Envelope) (any, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	decode := func(dst any) (any, error) {
		if err := json.Unmarshal(env.Payload, dst); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		if err := validate.Struct(dst); err != nil {
			return nil, fmt.Errorf("validate %s payload: %w", env.Type, err)
		}
		return dst, nil
	}

	switch env.Type {
	case TypeNotification, TypePersonalNotification:
		return decode(&Notification{})
	case TypeNotificationRead, TypeNotificationArchived, TypeNotificationDeleted:
		return decode(&NotificationRefPayload{})
	case TypeChatMessage:
		return decode(&ChatMessage{})
	case TypeMessageAck:
		return decode(&MessageAckPayload{})
	case TypeMessageDeleted, TypeMessageDelete:
		return decode(&MessageRefPayload{})
	case TypeAllMessagesDeleted, TypeAllMessagesDelete:
		return nil, nil
	case TypeOnlineUsers:
		return decode(&OnlineUsersPayload{})
	case TypeTypingStart, TypeTypingStop:
		return decode(&TypingPayload{})
	case TypeUnreadBacklog:
		return decode(&UnreadBacklogPayload{})
	case TypeError:
		return decode(&ErrorPayload{})
	default:
		return nil, fmt.Errorf("unknown type: %q", env.Type)
	}
}

// NewEnvelope builds an outbound envelope with a marshaled payload.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	env := Envelope{V: Version, Type: eventType, TS: time.Now().UTC()}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	env.Payload = raw
	return env, nil
}
