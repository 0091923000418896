package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/livefeed/livefeed-go/internal/feed"
	"github.com/livefeed/livefeed-go/internal/wire"
)

// SendMessage applies an optimistic chat send and transmits it. It returns
// the client-generated message id; the reconciler swaps it for the server id
// on ack, or rolls the message back if no ack arrives in time.
//
// The returned error reports acceptance only (ErrNotConnected when the
// channel is down); delivery failures surface through the listener after the
// ack timeout.
func (e *Engine) SendMessage(ctx context.Context, body string) (string, error) {
	clientID := uuid.NewString()
	profile := e.profile()
	reply := make(chan error, 1)
	e.post(feed.CmdSendMessage{
		ClientMsgID: clientID,
		Body:        body,
		SenderID:    profile.UserID,
		SenderName:  profile.DisplayName,
		NowMs:       e.nowMs(),
		Reply:       reply,
	})
	if err := e.await(ctx, reply); err != nil {
		return "", err
	}
	return clientID, nil
}

// MarkRead optimistically marks notifications read and confirms via REST.
// It blocks until the server acks, the call fails (rolled back), or the
// ack timeout rolls the mutation back.
func (e *Engine) MarkRead(ctx context.Context, ids []string) error {
	return e.batch(ctx, func(cmdID string, reply chan error) feed.Input {
		return feed.CmdMarkRead{CmdID: cmdID, IDs: ids, NowMs: e.nowMs(), Reply: reply}
	})
}

// Archive optimistically archives notifications and confirms via REST.
func (e *Engine) Archive(ctx context.Context, ids []string) error {
	return e.batch(ctx, func(cmdID string, reply chan error) feed.Input {
		return feed.CmdArchive{CmdID: cmdID, IDs: ids, NowMs: e.nowMs(), Reply: reply}
	})
}

// DeleteNotifications optimistically deletes notifications (privileged) and
// confirms via REST.
func (e *Engine) DeleteNotifications(ctx context.Context, ids []string) error {
	return e.batch(ctx, func(cmdID string, reply chan error) feed.Input {
		return feed.CmdDeleteNotifications{CmdID: cmdID, IDs: ids, NowMs: e.nowMs(), Reply: reply}
	})
}

// DeleteMessage optimistically removes a chat message and transmits the
// delete. Confirmation arrives as a message_deleted event.
func (e *Engine) DeleteMessage(ctx context.Context, id string) error {
	return e.batch(ctx, func(cmdID string, reply chan error) feed.Input {
		return feed.CmdDeleteMessage{CmdID: cmdID, ID: id, NowMs: e.nowMs(), Reply: reply}
	})
}

// DeleteAllMessages optimistically clears the room (privileged).
func (e *Engine) DeleteAllMessages(ctx context.Context) error {
	return e.batch(ctx, func(cmdID string, reply chan error) feed.Input {
		return feed.CmdDeleteAllMessages{CmdID: cmdID, NowMs: e.nowMs(), Reply: reply}
	})
}

// SetTyping reports the local user's composition state to peers.
func (e *Engine) SetTyping(ctx context.Context, started bool) error {
	reply := make(chan error, 1)
	e.post(feed.CmdTyping{Started: started, Reply: reply})
	return e.await(ctx, reply)
}

// Ask forwards a question to the chatbot Q&A endpoint.
func (e *Engine) Ask(ctx context.Context, question string) (string, error) {
	return e.api.Ask(ctx, question)
}

// AssignedTasks fetches the caller's assigned-task list.
func (e *Engine) AssignedTasks(ctx context.Context) ([]wire.Task, error) {
	return e.api.AssignedTasks(ctx)
}

func (e *Engine) batch(ctx context.Context, build func(cmdID string, reply chan error) feed.Input) error {
	reply := make(chan error, 1)
	e.post(build(uuid.NewString(), reply))
	return e.await(ctx, reply)
}

func (e *Engine) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

func (e *Engine) profile() wire.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Profile
}
