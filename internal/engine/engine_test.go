package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/livefeed/livefeed-go/internal/feed"
	"github.com/livefeed/livefeed-go/internal/rest"
	"github.com/livefeed/livefeed-go/internal/transport"
	"github.com/livefeed/livefeed-go/internal/wire"
)

type fakeChannel struct {
	mu        sync.Mutex
	events    chan transport.Event
	sent      []wire.Envelope
	sendErr   error
	closeOnce sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan transport.Event, 16)}
}

func (f *fakeChannel) Connect() error {
	f.events <- transport.Event{Kind: transport.KindConnected}
	return nil
}

func (f *fakeChannel) Events() <-chan transport.Event { return f.events }

func (f *fakeChannel) Send(env wire.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeChannel) Err() error { return nil }

func (f *fakeChannel) Close() error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeChannel) sentEnvelopes() []wire.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Envelope(nil), f.sent...)
}

func (f *fakeChannel) drop(reason string) {
	f.events <- transport.Event{Kind: transport.KindDisconnected, Reason: reason}
}

func (f *fakeChannel) reconnect() {
	f.events <- transport.Event{Kind: transport.KindConnected}
}

func (f *fakeChannel) deliver(t *testing.T, eventType string, payload any) {
	t.Helper()
	env, err := wire.NewEnvelope(eventType, payload)
	require.NoError(t, err)
	decoded, err := wire.DecodePayload(env)
	require.NoError(t, err)
	f.events <- transport.Event{Kind: transport.KindInbound, Env: env, Payload: decoded}
}

type fakeAPI struct {
	mu       sync.Mutex
	baseline rest.Baseline
	loadErr  error

	markReadErr error
	markReads   [][]string
	archives    [][]string
	deletes     []string
	bulkDeletes [][]string
}

func (f *fakeAPI) LoadBaseline(context.Context) (rest.Baseline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.baseline, f.loadErr
}

func (f *fakeAPI) MarkRead(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markReadErr != nil {
		return f.markReadErr
	}
	f.markReads = append(f.markReads, ids)
	return nil
}

func (f *fakeAPI) Archive(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archives = append(f.archives, ids)
	return nil
}

func (f *fakeAPI) DeleteNotification(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeAPI) BulkDelete(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkDeletes = append(f.bulkDeletes, ids)
	return nil
}

func (f *fakeAPI) AssignedTasks(context.Context) ([]wire.Task, error) {
	return []wire.Task{{ID: "t1", Title: "ship it", Status: "open"}}, nil
}

func (f *fakeAPI) Ask(_ context.Context, question string) (string, error) {
	return "answer to " + question, nil
}

func startTestEngine(t *testing.T, ch *fakeChannel, api *fakeAPI) *Engine {
	t.Helper()
	e := newEngine(WithSweepInterval(10 * time.Millisecond))
	e.channel = ch
	e.api = api
	require.NoError(t, e.Start())
	t.Cleanup(e.Stop)
	return e
}

func waitFor(t *testing.T, cond func(s feed.State) bool, e *Engine, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(e.Snapshot())
	}, 5*time.Second, 5*time.Millisecond, msg)
}

func fullBaseline() rest.Baseline {
	return rest.Baseline{
		Notifications: []wire.Notification{
			{ID: "n1", Scope: wire.ScopePersonal, CreatedAt: 1000},
		},
		UnreadCount: 1,
		Messages:    []wire.ChatMessage{{ID: "m1", SenderID: "u2", CreatedAt: 900}},
		OnlineUsers: []string{"u2"},
		Profile:     wire.Profile{UserID: "me", DisplayName: "Me"},
		Sections: rest.SectionFlags{
			Notifications: true,
			Messages:      true,
			Presence:      true,
			Profile:       true,
		},
	}
}

func TestEngineAppliesBaselineOnConnect(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	api := &fakeAPI{baseline: fullBaseline()}
	e := startTestEngine(t, ch, api)

	waitFor(t, func(s feed.State) bool {
		return s.BaselineApplied && len(s.Notifications) == 1 && len(s.Messages) == 1
	}, e, "baseline never applied")

	s := e.Snapshot()
	require.Equal(t, feed.Connected, s.Conn)
	require.Equal(t, "me", s.Profile.UserID)
	require.Equal(t, 1, e.UnreadCount())
}

func TestEngineAppliesStreamEvents(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	api := &fakeAPI{baseline: fullBaseline()}
	e := startTestEngine(t, ch, api)
	waitFor(t, func(s feed.State) bool { return s.BaselineApplied }, e, "baseline never applied")

	ch.deliver(t, wire.TypePersonalNotification, wire.Notification{
		ID:        "n2",
		Scope:     wire.ScopePersonal,
		CreatedAt: 2000,
	})
	waitFor(t, func(s feed.State) bool { return len(s.Notifications) == 2 }, e, "notification not applied")
	require.Equal(t, 2, e.UnreadCount())

	ch.deliver(t, wire.TypeNotificationRead, wire.NotificationRefPayload{ID: "n2", AtMs: 2100})
	waitFor(t, func(s feed.State) bool { return s.Notifications["n2"].ReadAt == 2100 }, e, "read not applied")

	ch.deliver(t, wire.TypeOnlineUsers, wire.OnlineUsersPayload{UserIDs: []string{"u5"}})
	waitFor(t, func(s feed.State) bool {
		_, ok := s.Online["u5"]
		return ok && len(s.Online) == 1
	}, e, "presence not replaced")
}

func TestEngineSendMessageEmitsAndSwaps(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	api := &fakeAPI{baseline: fullBaseline()}
	e := startTestEngine(t, ch, api)
	waitFor(t, func(s feed.State) bool { return s.BaselineApplied }, e, "baseline never applied")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clientID, err := e.SendMessage(ctx, "hello room")
	require.NoError(t, err)
	require.NotEmpty(t, clientID)

	waitFor(t, func(s feed.State) bool {
		m, ok := s.Messages[clientID]
		return ok && m.Pending && m.SenderID == "me"
	}, e, "optimistic message missing")

	sent := ch.sentEnvelopes()
	require.Len(t, sent, 1)
	require.Equal(t, wire.TypeMessageSend, sent[0].Type)

	ch.deliver(t, wire.TypeMessageAck, wire.MessageAckPayload{
		ClientMsgID: clientID,
		ServerMsgID: "srv-1",
		CreatedAt:   3000,
	})
	waitFor(t, func(s feed.State) bool {
		_, tmp := s.Messages[clientID]
		m, ok := s.Messages["srv-1"]
		return !tmp && ok && !m.Pending
	}, e, "ack did not swap ids")
}

func TestEngineMarkReadConfirmsThroughREST(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	api := &fakeAPI{baseline: fullBaseline()}
	e := startTestEngine(t, ch, api)
	waitFor(t, func(s feed.State) bool { return s.BaselineApplied }, e, "baseline never applied")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.MarkRead(ctx, []string{"n1"}))

	waitFor(t, func(s feed.State) bool { return s.Notifications["n1"].ReadAt != 0 }, e, "read not applied")
	require.Equal(t, 0, e.UnreadCount())

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Equal(t, [][]string{{"n1"}}, api.markReads)
}

func TestEngineMarkReadFailureRollsBack(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	api := &fakeAPI{baseline: fullBaseline(), markReadErr: errors.New("rejected")}
	e := startTestEngine(t, ch, api)
	waitFor(t, func(s feed.State) bool { return s.BaselineApplied }, e, "baseline never applied")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := e.MarkRead(ctx, []string{"n1"})
	require.Error(t, err)

	waitFor(t, func(s feed.State) bool { return s.Notifications["n1"].ReadAt == 0 }, e, "rollback not applied")
	require.Equal(t, 1, e.UnreadCount())
}

func TestEngineDeleteSingleNotificationUsesDeleteEndpoint(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	api := &fakeAPI{baseline: fullBaseline()}
	e := startTestEngine(t, ch, api)
	waitFor(t, func(s feed.State) bool { return s.BaselineApplied }, e, "baseline never applied")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.DeleteNotifications(ctx, []string{"n1"}))

	waitFor(t, func(s feed.State) bool { return len(s.Notifications) == 0 }, e, "delete not applied")
	api.mu.Lock()
	defer api.mu.Unlock()
	require.Equal(t, []string{"n1"}, api.deletes)
	require.Empty(t, api.bulkDeletes)
}

func TestEngineRebaselinesOnReconnect(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	api := &fakeAPI{baseline: fullBaseline()}
	e := startTestEngine(t, ch, api)
	waitFor(t, func(s feed.State) bool { return s.BaselineApplied }, e, "baseline never applied")

	// Swap the authoritative snapshot, then simulate a drop and reconnect.
	api.mu.Lock()
	api.baseline.Notifications = []wire.Notification{
		{ID: "n9", Scope: wire.ScopePersonal, CreatedAt: 5000},
	}
	api.mu.Unlock()

	ch.drop("read error")
	ch.reconnect()

	waitFor(t, func(s feed.State) bool {
		_, old := s.Notifications["n1"]
		_, fresh := s.Notifications["n9"]
		return s.BaselineApplied && !old && fresh
	}, e, "re-baseline did not replace state")
}

func TestEngineEventAfterReconnectSurvivesRebaseline(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	api := &fakeAPI{baseline: fullBaseline()}
	e := startTestEngine(t, ch, api)
	waitFor(t, func(s feed.State) bool { return s.BaselineApplied }, e, "baseline never applied")

	// Drop, reconnect, and deliver an event of the new connection back to
	// back. The event always follows its connect marker on the stream, so it
	// must be buffered behind the fresh baseline and replayed, never applied
	// to stale state and wiped.
	ch.drop("read error")
	ch.reconnect()
	ch.deliver(t, wire.TypeChatMessage, wire.ChatMessage{
		ID:        "m42",
		SenderID:  "u2",
		Body:      "made it",
		CreatedAt: 6000,
	})

	waitFor(t, func(s feed.State) bool {
		_, ok := s.Messages["m42"]
		return s.BaselineApplied && ok
	}, e, "post-reconnect event was lost across the re-baseline")
}

func TestEngineSendFailureRollsBackImmediately(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		errs []string
	)
	listener := &funcListener{onError: func(msg string) {
		mu.Lock()
		errs = append(errs, msg)
		mu.Unlock()
	}}

	ch := newFakeChannel()
	ch.sendErr = errors.New("write failed")
	api := &fakeAPI{baseline: fullBaseline()}
	e := newEngine(WithSweepInterval(10*time.Millisecond), WithListener(listener))
	e.channel = ch
	e.api = api
	require.NoError(t, e.Start())
	t.Cleanup(e.Stop)
	waitFor(t, func(s feed.State) bool { return s.BaselineApplied }, e, "baseline never applied")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clientID, err := e.SendMessage(ctx, "never leaves")
	require.NoError(t, err)

	// The failed transmit rolls the optimistic message back well inside the
	// ack deadline and surfaces the error.
	waitFor(t, func(s feed.State) bool {
		_, ok := s.Messages[clientID]
		return !ok
	}, e, "optimistic message not rolled back after send failure")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) > 0
	}, 5*time.Second, 5*time.Millisecond, "send failure not surfaced")
	require.Empty(t, ch.sentEnvelopes())
}

func TestEngineDeleteMessageSendFailureRestores(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	ch.sendErr = errors.New("write failed")
	api := &fakeAPI{baseline: fullBaseline()}
	e := startTestEngine(t, ch, api)
	waitFor(t, func(s feed.State) bool { return s.BaselineApplied }, e, "baseline never applied")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := e.DeleteMessage(ctx, "m1")
	require.Error(t, err)

	waitFor(t, func(s feed.State) bool {
		_, ok := s.Messages["m1"]
		return ok
	}, e, "message not restored after failed delete transmit")
}

func TestEngineLogsUnreadCounterDrift(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	baseline := fullBaseline()
	baseline.UnreadCount = 5 // the baseline carries one unread notification

	ch := newFakeChannel()
	api := &fakeAPI{baseline: baseline}
	e := newEngine(WithSweepInterval(10*time.Millisecond), WithLogger(zap.New(core)))
	e.channel = ch
	e.api = api
	require.NoError(t, e.Start())
	t.Cleanup(e.Stop)
	waitFor(t, func(s feed.State) bool { return s.BaselineApplied }, e, "baseline never applied")

	require.Eventually(t, func() bool {
		return logs.FilterMessage("unread counter drift").Len() == 1
	}, 5*time.Second, 5*time.Millisecond, "drift never logged")
	entry := logs.FilterMessage("unread counter drift").All()[0]
	fields := entry.ContextMap()
	require.EqualValues(t, 5, fields["server"])
	require.EqualValues(t, 1, fields["derived"])
}

func TestEngineListenerReceivesCallbacks(t *testing.T) {
	t.Parallel()

	type record struct {
		mu        sync.Mutex
		connected bool
		states    int
		errs      []string
	}
	rec := &record{}
	listener := &funcListener{
		onConnected: func() {
			rec.mu.Lock()
			rec.connected = true
			rec.mu.Unlock()
		},
		onStateChanged: func(feed.State) {
			rec.mu.Lock()
			rec.states++
			rec.mu.Unlock()
		},
		onError: func(msg string) {
			rec.mu.Lock()
			rec.errs = append(rec.errs, msg)
			rec.mu.Unlock()
		},
	}

	ch := newFakeChannel()
	api := &fakeAPI{baseline: fullBaseline()}
	e := newEngine(WithSweepInterval(10*time.Millisecond), WithListener(listener))
	e.channel = ch
	e.api = api
	require.NoError(t, e.Start())
	t.Cleanup(e.Stop)

	waitFor(t, func(s feed.State) bool { return s.BaselineApplied }, e, "baseline never applied")

	// Server error envelopes surface through OnError, not through state.
	ch.deliver(t, wire.TypeError, wire.ErrorPayload{Code: "rate_limited", Message: "slow down"})

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.connected && rec.states > 0 && len(rec.errs) == 1
	}, 5*time.Second, 5*time.Millisecond, "listener callbacks missing")
}

func TestEngineAskAndTasksDelegate(t *testing.T) {
	t.Parallel()
	ch := newFakeChannel()
	api := &fakeAPI{baseline: fullBaseline()}
	e := startTestEngine(t, ch, api)

	ctx := context.Background()
	answer, err := e.Ask(ctx, "status?")
	require.NoError(t, err)
	require.Equal(t, "answer to status?", answer)

	tasks, err := e.AssignedTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "t1", tasks[0].ID)
}

// funcListener adapts bare funcs to the Listener interface for tests.
type funcListener struct {
	onConnected    func()
	onDisconnected func(string, bool)
	onStateChanged func(feed.State)
	onError        func(string)
}

func (l *funcListener) OnConnected() {
	if l.onConnected != nil {
		l.onConnected()
	}
}

func (l *funcListener) OnDisconnected(reason string, final bool) {
	if l.onDisconnected != nil {
		l.onDisconnected(reason, final)
	}
}

func (l *funcListener) OnStateChanged(s feed.State) {
	if l.onStateChanged != nil {
		l.onStateChanged(s)
	}
}

func (l *funcListener) OnError(msg string) {
	if l.onError != nil {
		l.onError(msg)
	}
}
