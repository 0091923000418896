// Package feed implements the realtime feed reconciler.
//
// The core idea follows the actor/reducer layout used across the module:
//   - A single goroutine (the engine loop) owns all mutable state.
//   - A pure reducer transforms state given an input and returns effects.
//   - The engine interprets effects asynchronously and posts results back.
//
// Reducers must not call time.Now or perform I/O; timestamps arrive on inputs.
package feed

import (
	"github.com/livefeed/livefeed-go/internal/wire"
)

// ConnectionState tracks the transport channel lifecycle.
type ConnectionState int

const (
	// Disconnected means no connection exists and none is being attempted.
	Disconnected ConnectionState = iota
	// Connecting means the initial dial is in flight.
	Connecting
	// Connected means the channel is up and sends are allowed.
	Connected
	// Reconnecting means the channel dropped and backoff retries are running.
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Tunables, all in milliseconds.
const (
	// TypingTTLMs is how long a typing indicator survives without refresh.
	TypingTTLMs = 3_000
	// TombstoneTTLMs bounds how long deleted message ids are remembered to
	// absorb late redelivery.
	TombstoneTTLMs = 60_000
	// PendingMarkTTLMs bounds how long read/archive markers for not-yet-seen
	// notification ids are retained.
	PendingMarkTTLMs = 60_000
	// AckTimeoutMs forces rollback of optimistic commands with no ack.
	AckTimeoutMs = 10_000
)

// Retained history bounds. Oldest entries are pruned past these.
const (
	MaxMessages      = 500
	MaxNotifications = 1_000
)

// pendingMark records a read/archive event that arrived before its
// notification did (for example during the pre-baseline window).
type pendingMark struct {
	ReadAtMs     int64
	ArchivedAtMs int64
	ExpiresAtMs  int64
}

// pendingSend tracks an optimistic chat send awaiting its server ack.
type pendingSend struct {
	DeadlineMs int64
}

// Command kinds for pendingCommand bookkeeping.
const (
	cmdKindMarkRead      = "mark_read"
	cmdKindArchive       = "archive"
	cmdKindDelete        = "delete"
	cmdKindDeleteMessage = "delete_message"
	cmdKindDeleteAll     = "delete_all_messages"
)

// pendingCommand tracks an optimistic batch mutation awaiting confirmation.
// Prev* snapshots hold exactly what is needed to roll the mutation back.
type pendingCommand struct {
	Kind       string
	DeadlineMs int64
	Reply      chan error

	PrevRead     map[string]int64
	PrevArchived map[string]int64
	PrevDeleted  map[string]wire.Notification
	PrevMessages map[string]wire.ChatMessage
}

// State is the reconciled feed state.
//
// It is owned exclusively by the engine loop; readers must work on a Clone.
type State struct {
	Conn            ConnectionState
	BaselineApplied bool

	// Backlog buffers inbound events that arrived before the baseline
	// snapshot finished applying. They are replayed in order afterwards.
	Backlog []Input

	Notifications map[string]wire.Notification
	Messages      map[string]wire.ChatMessage
	Online        map[string]struct{}
	// Typing maps userID to the expiry timestamp of its indicator.
	Typing map[string]int64
	// Tombstones maps deleted message ids to their retention expiry.
	Tombstones map[string]int64

	pendingMarks    map[string]pendingMark
	pendingSends    map[string]pendingSend
	pendingCommands map[string]pendingCommand

	// Profile mirrors the user profile from the baseline, including the
	// server-asserted moderation role flag (advisory UI gating only).
	Profile wire.Profile

	// Degraded lists baseline sections that failed on the last load.
	Degraded []string
}

// NewState returns an empty reconciled state.
func NewState() State {
	return State{
		Notifications:   make(map[string]wire.Notification),
		Messages:        make(map[string]wire.ChatMessage),
		Online:          make(map[string]struct{}),
		Typing:          make(map[string]int64),
		Tombstones:      make(map[string]int64),
		pendingMarks:    make(map[string]pendingMark),
		pendingSends:    make(map[string]pendingSend),
		pendingCommands: make(map[string]pendingCommand),
	}
}

// Clone deep-copies the collections so projections and UI readers can work on
// a stable snapshot while the loop keeps reducing.
func (s State) Clone() State {
	out := s
	out.Notifications = make(map[string]wire.Notification, len(s.Notifications))
	for k, v := range s.Notifications {
		out.Notifications[k] = v
	}
	out.Messages = make(map[string]wire.ChatMessage, len(s.Messages))
	for k, v := range s.Messages {
		out.Messages[k] = v
	}
	out.Online = make(map[string]struct{}, len(s.Online))
	for k := range s.Online {
		out.Online[k] = struct{}{}
	}
	out.Typing = make(map[string]int64, len(s.Typing))
	for k, v := range s.Typing {
		out.Typing[k] = v
	}
	out.Tombstones = make(map[string]int64, len(s.Tombstones))
	for k, v := range s.Tombstones {
		out.Tombstones[k] = v
	}
	// Pending bookkeeping stays with the loop; clones are read-only views.
	out.pendingMarks = nil
	out.pendingSends = nil
	out.pendingCommands = nil
	out.Backlog = nil
	out.Degraded = append([]string(nil), s.Degraded...)
	return out
}

// PendingSendCount reports how many optimistic sends await their ack.
func (s State) PendingSendCount() int { return len(s.pendingSends) }

// PendingCommandCount reports how many optimistic batches await confirmation.
func (s State) PendingCommandCount() int { return len(s.pendingCommands) }
