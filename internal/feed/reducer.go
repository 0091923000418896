package feed

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/livefeed/livefeed-go/internal/wire"
)

// Reduce is the feed reconciler reducer.
//
// Inbound server events are applied strictly in arrival order. Events that
// arrive before the baseline snapshot finishes applying are buffered and
// replayed afterwards, never dropped. Applying any event twice yields the same
// state as applying it once: all collection mutations are id-keyed
// upserts/removes, never counters or ordinal appends.
func Reduce(state State, input Input) (State, []Effect) {
	if _, ok := input.(bufferable); ok && !state.BaselineApplied {
		state.Backlog = append(state.Backlog, input)
		return state, nil
	}

	switch in := input.(type) {
	case EvConnected:
		return reduceConnected(state)
	case EvDisconnected:
		return reduceDisconnected(state, in)
	case EvBaselineLoaded:
		return reduceBaselineLoaded(state, in)
	case EvTick:
		return reduceTick(state, in)

	case EvNotification:
		state = upsertNotification(state, in.N, in.NowMs)
		return state, nil
	case EvUnreadBacklog:
		for _, n := range in.Notifications {
			state = upsertNotification(state, n, in.NowMs)
		}
		return state, nil
	case EvNotificationRead:
		return reduceNotificationMark(state, in.ID, tsOr(in.AtMs, in.NowMs), 0, in.NowMs), nil
	case EvNotificationArchived:
		return reduceNotificationMark(state, in.ID, 0, tsOr(in.AtMs, in.NowMs), in.NowMs), nil
	case EvNotificationDeleted:
		delete(state.Notifications, in.ID)
		delete(state.pendingMarks, in.ID)
		return state, nil

	case EvChatMessage:
		return reduceChatMessage(state, in), nil
	case EvMessageAck:
		return reduceMessageAck(state, in), nil
	case EvMessageDeleted:
		return reduceMessageDeleted(state, in), nil
	case EvAllMessagesDeleted:
		return reduceAllMessagesDeleted(state, in.NowMs), nil

	case EvPresence:
		state.Online = make(map[string]struct{}, len(in.UserIDs))
		for _, id := range in.UserIDs {
			state.Online[id] = struct{}{}
		}
		return state, nil
	case EvTypingStart:
		state.Typing[in.UserID] = in.NowMs + TypingTTLMs
		return state, nil
	case EvTypingStop:
		delete(state.Typing, in.UserID)
		return state, nil

	case EvCommandAcked:
		if pc, ok := state.pendingCommands[in.CmdID]; ok {
			reply(pc.Reply, nil)
			delete(state.pendingCommands, in.CmdID)
		}
		return state, nil
	case EvCommandFailed:
		if pc, ok := state.pendingCommands[in.CmdID]; ok {
			state = rollbackCommand(state, pc)
			reply(pc.Reply, in.Err)
			delete(state.pendingCommands, in.CmdID)
		}
		return state, nil
	case EvSendFailed:
		if _, ok := state.pendingSends[in.ClientMsgID]; ok {
			delete(state.pendingSends, in.ClientMsgID)
			if m, ok := state.Messages[in.ClientMsgID]; ok && m.Pending {
				delete(state.Messages, in.ClientMsgID)
			}
		}
		return state, nil

	case CmdSendMessage:
		return reduceSendMessage(state, in)
	case CmdMarkRead:
		return reduceMarkBatch(state, cmdKindMarkRead, in.CmdID, in.IDs, in.NowMs, in.Reply)
	case CmdArchive:
		return reduceMarkBatch(state, cmdKindArchive, in.CmdID, in.IDs, in.NowMs, in.Reply)
	case CmdDeleteNotifications:
		return reduceDeleteNotifications(state, in)
	case CmdDeleteMessage:
		return reduceDeleteMessage(state, in)
	case CmdDeleteAllMessages:
		return reduceDeleteAllMessages(state, in)
	case CmdTyping:
		return reduceTyping(state, in)

	default:
		return state, nil
	}
}

// bufferable marks inbound server events that must queue behind the baseline.
//
// Commands, ticks, lifecycle, and command results are never buffered: local
// optimistic work and expiry sweeps keep running during a (re)baseline.
type bufferable interface {
	isBufferable()
}

func (EvNotification) isBufferable()         {}
func (EvUnreadBacklog) isBufferable()        {}
func (EvNotificationRead) isBufferable()     {}
func (EvNotificationArchived) isBufferable() {}
func (EvNotificationDeleted) isBufferable()  {}
func (EvChatMessage) isBufferable()          {}
func (EvMessageDeleted) isBufferable()       {}
func (EvAllMessagesDeleted) isBufferable()   {}
func (EvPresence) isBufferable()             {}

func reduceConnected(state State) (State, []Effect) {
	state.Conn = Connected
	// Re-baseline on every connect: events missed while disconnected can only
	// be bridged by a fresh authoritative snapshot.
	state.BaselineApplied = false
	state.Backlog = nil
	return state, []Effect{EffLoadBaseline{}}
}

func reduceDisconnected(state State, ev EvDisconnected) (State, []Effect) {
	if ev.Final {
		state.Conn = Disconnected
	} else {
		state.Conn = Reconnecting
	}
	return state, nil
}

func reduceBaselineLoaded(state State, ev EvBaselineLoaded) (State, []Effect) {
	if ev.HasNotifications {
		state.Notifications = make(map[string]wire.Notification, len(ev.Notifications))
		for _, n := range ev.Notifications {
			state = upsertNotification(state, n, ev.NowMs)
		}
	}
	if ev.HasMessages {
		// The snapshot is authoritative, but optimistic pending sends are
		// local-only and must survive a re-baseline until acked or timed out.
		prev := state.Messages
		state.Messages = make(map[string]wire.ChatMessage, len(ev.Messages))
		for _, m := range ev.Messages {
			if _, dead := state.Tombstones[m.ID]; dead {
				continue
			}
			state.Messages[m.ID] = m
		}
		for id, m := range prev {
			if m.Pending {
				state.Messages[id] = m
			}
		}
	}
	if ev.HasPresence {
		state.Online = make(map[string]struct{}, len(ev.OnlineUsers))
		for _, id := range ev.OnlineUsers {
			state.Online[id] = struct{}{}
		}
	}
	if ev.HasProfile {
		state.Profile = ev.Profile
	}
	state.Degraded = append([]string(nil), ev.Degraded...)
	state.BaselineApplied = true

	// Replay everything that raced the snapshot, preserving arrival order.
	backlog := state.Backlog
	state.Backlog = nil
	var effects []Effect
	for _, in := range backlog {
		var fx []Effect
		state, fx = Reduce(state, in)
		effects = append(effects, fx...)
	}
	return state, effects
}

func upsertNotification(state State, n wire.Notification, nowMs int64) State {
	if n.Priority == "" {
		n.Priority = wire.PriorityNormal
	}
	if mark, ok := state.pendingMarks[n.ID]; ok {
		if mark.ReadAtMs > 0 && n.ReadAt == 0 {
			n.ReadAt = mark.ReadAtMs
		}
		if mark.ArchivedAtMs > 0 && n.ArchivedAt == 0 {
			n.ArchivedAt = mark.ArchivedAtMs
		}
		delete(state.pendingMarks, n.ID)
	}
	state.Notifications[n.ID] = n
	return pruneNotifications(state)
}

func reduceNotificationMark(state State, id string, readAt, archivedAt, nowMs int64) State {
	if n, ok := state.Notifications[id]; ok {
		if readAt > 0 && n.ReadAt == 0 {
			n.ReadAt = readAt
		}
		if archivedAt > 0 && n.ArchivedAt == 0 {
			n.ArchivedAt = archivedAt
		}
		state.Notifications[id] = n
		return state
	}
	// The record may still be in flight (pre-baseline race); keep a bounded
	// marker and apply it once the record shows up.
	mark := state.pendingMarks[id]
	if readAt > 0 {
		mark.ReadAtMs = readAt
	}
	if archivedAt > 0 {
		mark.ArchivedAtMs = archivedAt
	}
	mark.ExpiresAtMs = nowMs + PendingMarkTTLMs
	state.pendingMarks[id] = mark
	return state
}

func reduceChatMessage(state State, ev EvChatMessage) State {
	m := ev.M
	if _, dead := state.Tombstones[m.ID]; dead {
		return state
	}
	// A broadcast that echoes our idempotency key doubles as the ack: drop the
	// temporary message in the same update so the swap never duplicates.
	if m.ClientMsgID != "" {
		if _, ok := state.pendingSends[m.ClientMsgID]; ok {
			delete(state.pendingSends, m.ClientMsgID)
			delete(state.Messages, m.ClientMsgID)
		}
	}
	state.Messages[m.ID] = m
	return pruneMessages(state)
}

func reduceMessageAck(state State, ev EvMessageAck) State {
	if _, ok := state.pendingSends[ev.ClientMsgID]; !ok {
		return state
	}
	delete(state.pendingSends, ev.ClientMsgID)
	temp, hadTemp := state.Messages[ev.ClientMsgID]
	delete(state.Messages, ev.ClientMsgID)
	if _, dead := state.Tombstones[ev.ServerMsgID]; dead {
		return state
	}
	if _, exists := state.Messages[ev.ServerMsgID]; exists {
		// Broadcast arrived before the ack; nothing left to swap.
		return state
	}
	if !hadTemp {
		return state
	}
	temp.ID = ev.ServerMsgID
	temp.Pending = false
	if ev.CreatedAt > 0 {
		temp.CreatedAt = ev.CreatedAt
	}
	state.Messages[ev.ServerMsgID] = temp
	return state
}

func reduceMessageDeleted(state State, ev EvMessageDeleted) State {
	delete(state.Messages, ev.ID)
	state.Tombstones[ev.ID] = ev.NowMs + TombstoneTTLMs
	// A delete confirmation resolves any optimistic delete for the same id.
	for cmdID, pc := range state.pendingCommands {
		if pc.Kind != cmdKindDeleteMessage {
			continue
		}
		if _, ok := pc.PrevMessages[ev.ID]; ok {
			reply(pc.Reply, nil)
			delete(state.pendingCommands, cmdID)
		}
	}
	return state
}

func reduceAllMessagesDeleted(state State, nowMs int64) State {
	for id := range state.Messages {
		state.Tombstones[id] = nowMs + TombstoneTTLMs
	}
	state.Messages = make(map[string]wire.ChatMessage)
	state.pendingSends = make(map[string]pendingSend)
	for cmdID, pc := range state.pendingCommands {
		if pc.Kind == cmdKindDeleteAll {
			reply(pc.Reply, nil)
			delete(state.pendingCommands, cmdID)
		}
	}
	return state
}

func reduceSendMessage(state State, cmd CmdSendMessage) (State, []Effect) {
	if state.Conn != Connected {
		reply(cmd.Reply, ErrNotConnected)
		return state, nil
	}
	msg := wire.ChatMessage{
		ID:          cmd.ClientMsgID,
		ClientMsgID: cmd.ClientMsgID,
		SenderID:    cmd.SenderID,
		SenderName:  cmd.SenderName,
		SenderGroup: cmd.SenderGroup,
		Body:        cmd.Body,
		CreatedAt:   cmd.NowMs,
		Pending:     true,
	}
	state.Messages[msg.ID] = msg
	state.pendingSends[cmd.ClientMsgID] = pendingSend{DeadlineMs: cmd.NowMs + AckTimeoutMs}
	reply(cmd.Reply, nil)
	env := newEnvelope(wire.TypeMessageSend, wire.MessageSendPayload{
		ClientMsgID: cmd.ClientMsgID,
		Body:        cmd.Body,
	}, cmd.NowMs)
	return state, []Effect{EffEmit{Env: env, ClientMsgID: cmd.ClientMsgID}}
}

func reduceMarkBatch(state State, kind, cmdID string, ids []string, nowMs int64, replyCh chan error) (State, []Effect) {
	pc := pendingCommand{
		Kind:       kind,
		DeadlineMs: nowMs + AckTimeoutMs,
		Reply:      replyCh,
	}
	var changed []string
	for _, id := range ids {
		n, ok := state.Notifications[id]
		if !ok {
			continue
		}
		switch kind {
		case cmdKindMarkRead:
			if n.ReadAt != 0 {
				continue
			}
			if pc.PrevRead == nil {
				pc.PrevRead = make(map[string]int64)
			}
			pc.PrevRead[id] = n.ReadAt
			n.ReadAt = nowMs
		case cmdKindArchive:
			if n.ArchivedAt != 0 {
				continue
			}
			if pc.PrevArchived == nil {
				pc.PrevArchived = make(map[string]int64)
			}
			pc.PrevArchived[id] = n.ArchivedAt
			n.ArchivedAt = nowMs
		}
		state.Notifications[id] = n
		changed = append(changed, id)
	}
	if len(changed) == 0 {
		reply(replyCh, nil)
		return state, nil
	}
	state.pendingCommands[cmdID] = pc
	if kind == cmdKindMarkRead {
		return state, []Effect{EffMarkRead{CmdID: cmdID, IDs: changed}}
	}
	return state, []Effect{EffArchive{CmdID: cmdID, IDs: changed}}
}

func reduceDeleteNotifications(state State, cmd CmdDeleteNotifications) (State, []Effect) {
	pc := pendingCommand{
		Kind:        cmdKindDelete,
		DeadlineMs:  cmd.NowMs + AckTimeoutMs,
		Reply:       cmd.Reply,
		PrevDeleted: make(map[string]wire.Notification),
	}
	var removed []string
	for _, id := range cmd.IDs {
		n, ok := state.Notifications[id]
		if !ok {
			continue
		}
		pc.PrevDeleted[id] = n
		delete(state.Notifications, id)
		removed = append(removed, id)
	}
	if len(removed) == 0 {
		reply(cmd.Reply, nil)
		return state, nil
	}
	state.pendingCommands[cmd.CmdID] = pc
	return state, []Effect{EffDeleteNotifications{CmdID: cmd.CmdID, IDs: removed}}
}

func reduceDeleteMessage(state State, cmd CmdDeleteMessage) (State, []Effect) {
	if state.Conn != Connected {
		reply(cmd.Reply, ErrNotConnected)
		return state, nil
	}
	m, ok := state.Messages[cmd.ID]
	if !ok {
		reply(cmd.Reply, nil)
		return state, nil
	}
	state.pendingCommands[cmd.CmdID] = pendingCommand{
		Kind:         cmdKindDeleteMessage,
		DeadlineMs:   cmd.NowMs + AckTimeoutMs,
		Reply:        cmd.Reply,
		PrevMessages: map[string]wire.ChatMessage{cmd.ID: m},
	}
	delete(state.Messages, cmd.ID)
	state.Tombstones[cmd.ID] = cmd.NowMs + TombstoneTTLMs
	env := newEnvelope(wire.TypeMessageDelete, wire.MessageRefPayload{ID: cmd.ID}, cmd.NowMs)
	return state, []Effect{EffEmit{Env: env, CmdID: cmd.CmdID}}
}

func reduceDeleteAllMessages(state State, cmd CmdDeleteAllMessages) (State, []Effect) {
	if state.Conn != Connected {
		reply(cmd.Reply, ErrNotConnected)
		return state, nil
	}
	prev := make(map[string]wire.ChatMessage, len(state.Messages))
	for id, m := range state.Messages {
		prev[id] = m
		state.Tombstones[id] = cmd.NowMs + TombstoneTTLMs
	}
	state.Messages = make(map[string]wire.ChatMessage)
	state.pendingCommands[cmd.CmdID] = pendingCommand{
		Kind:         cmdKindDeleteAll,
		DeadlineMs:   cmd.NowMs + AckTimeoutMs,
		Reply:        cmd.Reply,
		PrevMessages: prev,
	}
	env := newEnvelope(wire.TypeAllMessagesDelete, nil, cmd.NowMs)
	return state, []Effect{EffEmit{Env: env, CmdID: cmd.CmdID}}
}

func reduceTyping(state State, cmd CmdTyping) (State, []Effect) {
	if state.Conn != Connected {
		reply(cmd.Reply, ErrNotConnected)
		return state, nil
	}
	reply(cmd.Reply, nil)
	eventType := wire.TypeTypingStop
	if cmd.Started {
		eventType = wire.TypeTypingStart
	}
	return state, []Effect{EffEmit{Env: newEnvelope(eventType, nil, 0)}}
}

func reduceTick(state State, ev EvTick) (State, []Effect) {
	now := ev.NowMs
	for user, expiry := range state.Typing {
		if expiry <= now {
			delete(state.Typing, user)
		}
	}
	for id, expiry := range state.Tombstones {
		if expiry <= now {
			delete(state.Tombstones, id)
		}
	}
	for id, mark := range state.pendingMarks {
		if mark.ExpiresAtMs <= now {
			delete(state.pendingMarks, id)
		}
	}

	var effects []Effect
	for clientID, ps := range state.pendingSends {
		if ps.DeadlineMs > now {
			continue
		}
		delete(state.pendingSends, clientID)
		if m, ok := state.Messages[clientID]; ok && m.Pending {
			delete(state.Messages, clientID)
		}
		effects = append(effects, EffCommandTimedOut{Kind: "send_message", ClientMsgID: clientID})
	}
	for cmdID, pc := range state.pendingCommands {
		if pc.DeadlineMs > now {
			continue
		}
		state = rollbackCommand(state, pc)
		reply(pc.Reply, ErrCommandTimeout)
		delete(state.pendingCommands, cmdID)
		effects = append(effects, EffCommandTimedOut{Kind: pc.Kind, IDs: commandIDs(pc)})
	}
	return state, effects
}

func rollbackCommand(state State, pc pendingCommand) State {
	for id, prev := range pc.PrevRead {
		if n, ok := state.Notifications[id]; ok {
			n.ReadAt = prev
			state.Notifications[id] = n
		}
	}
	for id, prev := range pc.PrevArchived {
		if n, ok := state.Notifications[id]; ok {
			n.ArchivedAt = prev
			state.Notifications[id] = n
		}
	}
	for id, n := range pc.PrevDeleted {
		if _, ok := state.Notifications[id]; !ok {
			state.Notifications[id] = n
		}
	}
	for id, m := range pc.PrevMessages {
		// An optimistic delete also tombstoned the id; lift the tombstone so
		// the restored message is not swallowed.
		delete(state.Tombstones, id)
		if _, ok := state.Messages[id]; !ok {
			state.Messages[id] = m
		}
	}
	return state
}

func commandIDs(pc pendingCommand) []string {
	var ids []string
	for id := range pc.PrevRead {
		ids = append(ids, id)
	}
	for id := range pc.PrevArchived {
		ids = append(ids, id)
	}
	for id := range pc.PrevDeleted {
		ids = append(ids, id)
	}
	for id := range pc.PrevMessages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func pruneNotifications(state State) State {
	if len(state.Notifications) <= MaxNotifications {
		return state
	}
	all := make([]wire.Notification, 0, len(state.Notifications))
	for _, n := range state.Notifications {
		all = append(all, n)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt < all[j].CreatedAt })
	for _, n := range all[:len(all)-MaxNotifications] {
		delete(state.Notifications, n.ID)
	}
	return state
}

func pruneMessages(state State) State {
	if len(state.Messages) <= MaxMessages {
		return state
	}
	all := make([]wire.ChatMessage, 0, len(state.Messages))
	for _, m := range state.Messages {
		if m.Pending {
			continue
		}
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt < all[j].CreatedAt })
	excess := len(state.Messages) - MaxMessages
	if excess > len(all) {
		excess = len(all)
	}
	for _, m := range all[:excess] {
		delete(state.Messages, m.ID)
	}
	return state
}

// newEnvelope builds an outbound envelope without touching the wall clock;
// reducers stay deterministic by stamping the injected timestamp.
func newEnvelope(eventType string, payload any, nowMs int64) wire.Envelope {
	env := wire.Envelope{V: wire.Version, Type: eventType}
	if nowMs > 0 {
		env.TS = time.UnixMilli(nowMs).UTC()
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err == nil {
			env.Payload = raw
		}
	}
	return env
}

func tsOr(atMs, nowMs int64) int64 {
	if atMs > 0 {
		return atMs
	}
	return nowMs
}

func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}
