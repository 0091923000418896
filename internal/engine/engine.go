// Package engine wires the transport channel, snapshot loader, and reconciler
// together behind a single event loop.
//
// One goroutine owns the feed state. The transport stream carries lifecycle
// markers in-band with decoded inbound events, so connects, disconnects, and
// the events of each connection are reduced in exactly the order they
// happened; local commands and sweep ticks enter through a separate input
// queue. Effects (sends, REST calls, baseline loads) execute asynchronously
// and post their results back as inputs. Teardown closes the channel and
// stops every timer the engine owns.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/livefeed/livefeed-go/internal/config"
	"github.com/livefeed/livefeed-go/internal/feed"
	"github.com/livefeed/livefeed-go/internal/metrics"
	"github.com/livefeed/livefeed-go/internal/rest"
	"github.com/livefeed/livefeed-go/internal/storage"
	"github.com/livefeed/livefeed-go/internal/transport"
	"github.com/livefeed/livefeed-go/internal/wire"
)

const (
	defaultSweepInterval = time.Second
	defaultInputQueue    = 256
)

// Listener receives engine callbacks. Methods must be safe to call from any
// goroutine and should return quickly.
type Listener interface {
	// OnConnected is called after the stream (re)connects.
	OnConnected()
	// OnDisconnected is called after the stream drops. final is true when the
	// engine will not reconnect (explicit stop or auth failure).
	OnDisconnected(reason string, final bool)
	// OnStateChanged delivers a snapshot after each applied input.
	OnStateChanged(snapshot feed.State)
	// OnError delivers non-fatal errors for display or logging.
	OnError(message string)
}

// Forwarder pushes urgent notifications to an out-of-band delivery service.
type Forwarder interface {
	Forward(ctx context.Context, n wire.Notification) error
}

// channel is the subset of the transport channel the engine drives.
type channel interface {
	Connect() error
	Events() <-chan transport.Event
	Send(env wire.Envelope) error
	Err() error
	Close() error
}

// api is the subset of the REST client the engine drives.
type api interface {
	LoadBaseline(ctx context.Context) (rest.Baseline, error)
	MarkRead(ctx context.Context, ids []string) error
	Archive(ctx context.Context, ids []string) error
	DeleteNotification(ctx context.Context, id string) error
	BulkDelete(ctx context.Context, ids []string) error
	AssignedTasks(ctx context.Context) ([]wire.Task, error)
	Ask(ctx context.Context, question string) (string, error)
}

// Engine is the realtime sync engine.
type Engine struct {
	log       *zap.Logger
	clock     Clock
	channel   channel
	api       api
	listener  Listener
	forwarder Forwarder

	sweepInterval time.Duration

	inputs chan feed.Input

	mu    sync.Mutex
	state feed.State

	ctx      context.Context
	cancel   context.CancelFunc
	doneCh   chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithListener registers the engine listener.
func WithListener(l Listener) Option {
	return func(e *Engine) { e.listener = l }
}

// WithForwarder registers an out-of-band forwarder for urgent notifications.
func WithForwarder(f Forwarder) Option {
	return func(e *Engine) { e.forwarder = f }
}

// WithClock replaces the time source (used by tests).
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithSweepInterval overrides the expiry sweep interval (used by tests).
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sweepInterval = d
		}
	}
}

// New creates an engine from configuration, building the transport channel
// and REST client against the configured server.
func New(cfg *config.Config, opts ...Option) *Engine {
	e := newEngine(opts...)
	deviceID, err := storage.GetOrCreateDeviceID(cfg.DeviceIDFile)
	if err != nil {
		e.log.Warn("device id unavailable", zap.Error(err))
	}
	e.channel = transport.New(cfg.ServerURL, cfg.Token,
		transport.WithLogger(e.log),
		transport.WithDeviceID(deviceID))
	e.api = rest.New(cfg.ServerURL, cfg.Token,
		rest.WithLogger(e.log),
		rest.WithDeviceID(deviceID),
		rest.WithSessionFile(cfg.AssistSessionFile))
	return e
}

func newEngine(opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		log:           zap.NewNop(),
		clock:         RealClock{},
		sweepInterval: defaultSweepInterval,
		inputs:        make(chan feed.Input, defaultInputQueue),
		state:         feed.NewState(),
		ctx:           ctx,
		cancel:        cancel,
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start connects the stream and begins the event loop.
//
// It returns ErrUnauthenticated without retrying when the token is already
// expired; transient connect failures are retried internally with backoff.
func (e *Engine) Start() error {
	if err := e.channel.Connect(); err != nil {
		return err
	}
	e.started.Store(true)
	go e.loop()
	return nil
}

// Stop tears the engine down: the channel is closed, the sweep ticker
// stopped, and the loop drained. Safe to call multiple times, including after
// a Start that failed before the loop began.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		_ = e.channel.Close()
		e.cancel()
	})
	if e.started.Load() {
		<-e.doneCh
	}
}

// Snapshot returns a deep copy of the reconciled state for reads and
// projections.
func (e *Engine) Snapshot() feed.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// UnreadCount derives the unread counter from the current state.
func (e *Engine) UnreadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return feed.UnreadCount(e.state)
}

func (e *Engine) loop() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	events := e.channel.Events()
	for {
		select {
		case <-e.ctx.Done():
			return
		case in := <-e.inputs:
			e.apply(in)
		case ev, ok := <-events:
			if !ok {
				if err := e.channel.Err(); err != nil {
					e.log.Warn("stream terminated", zap.Error(err))
					if e.listener != nil {
						e.listener.OnError(err.Error())
					}
				}
				events = nil
				continue
			}
			switch ev.Kind {
			case transport.KindConnected:
				// Reduced here, in stream order, so no event of the new
				// connection can be applied before the connect itself.
				e.apply(feed.EvConnected{NowMs: e.nowMs()})
				if e.listener != nil {
					e.listener.OnConnected()
				}
			case transport.KindDisconnected:
				e.apply(feed.EvDisconnected{Reason: ev.Reason, Final: ev.Final})
				if e.listener != nil {
					e.listener.OnDisconnected(ev.Reason, ev.Final)
				}
			default:
				if in := e.translate(ev); in != nil {
					metrics.EventsApplied.Inc()
					e.apply(in)
				}
			}
		case <-ticker.C:
			e.applyTick()
		}
	}
}

func (e *Engine) applyTick() {
	e.mu.Lock()
	next, effects := feed.Reduce(e.state, feed.EvTick{NowMs: e.nowMs()})
	e.state = next
	e.mu.Unlock()
	e.runEffects(effects)
}

func (e *Engine) apply(in feed.Input) {
	e.mu.Lock()
	next, effects := feed.Reduce(e.state, in)
	e.state = next
	snapshot := e.state.Clone()
	e.mu.Unlock()

	// The unread counter is derived, never stored; a mismatch against the
	// server's counter after a baseline means the two disagree on read state.
	if ev, ok := in.(feed.EvBaselineLoaded); ok && ev.HasNotifications {
		if derived := feed.UnreadCount(snapshot); derived != ev.ServerUnread {
			e.log.Warn("unread counter drift",
				zap.Int("server", ev.ServerUnread),
				zap.Int("derived", derived))
		}
	}

	e.runEffects(effects)
	if e.listener != nil {
		e.listener.OnStateChanged(snapshot)
	}
}

func (e *Engine) runEffects(effects []feed.Effect) {
	for _, eff := range effects {
		switch eff := eff.(type) {
		case feed.EffEmit:
			if err := e.channel.Send(eff.Env); err != nil {
				// A known transmit failure rolls the optimistic mutation back
				// right away; the ack deadline is only a backstop for acks
				// that never arrive.
				e.log.Warn("emit failed", zap.String("type", eff.Env.Type), zap.Error(err))
				switch {
				case eff.CmdID != "":
					e.post(feed.EvCommandFailed{CmdID: eff.CmdID, Err: err})
				case eff.ClientMsgID != "":
					metrics.CommandRollbacks.WithLabelValues("send_message").Inc()
					e.post(feed.EvSendFailed{ClientMsgID: eff.ClientMsgID, Err: err})
				}
				if e.listener != nil {
					e.listener.OnError(err.Error())
				}
			}
		case feed.EffLoadBaseline:
			go e.loadBaseline()
		case feed.EffMarkRead:
			go e.finishCommand(eff.CmdID, func(ctx context.Context) error {
				return e.api.MarkRead(ctx, eff.IDs)
			})
		case feed.EffArchive:
			go e.finishCommand(eff.CmdID, func(ctx context.Context) error {
				return e.api.Archive(ctx, eff.IDs)
			})
		case feed.EffDeleteNotifications:
			ids := eff.IDs
			go e.finishCommand(eff.CmdID, func(ctx context.Context) error {
				if len(ids) == 1 {
					return e.api.DeleteNotification(ctx, ids[0])
				}
				return e.api.BulkDelete(ctx, ids)
			})
		case feed.EffCommandTimedOut:
			metrics.CommandRollbacks.WithLabelValues(eff.Kind).Inc()
			e.log.Warn("command rolled back on timeout",
				zap.String("kind", eff.Kind),
				zap.Strings("ids", eff.IDs),
				zap.String("clientMsgId", eff.ClientMsgID))
			if e.listener != nil {
				e.listener.OnError("command timed out: " + eff.Kind)
			}
		}
	}
}

func (e *Engine) loadBaseline() {
	baseline, err := e.api.LoadBaseline(e.ctx)
	switch {
	case err == nil:
		metrics.BaselineLoads.WithLabelValues("ok").Inc()
	case errors.Is(err, rest.ErrSnapshotPartial):
		metrics.BaselineLoads.WithLabelValues("partial").Inc()
		e.log.Warn("baseline degraded", zap.Error(err), zap.Strings("sections", baseline.Degraded))
		if e.listener != nil {
			e.listener.OnError(err.Error())
		}
	default:
		metrics.BaselineLoads.WithLabelValues("failed").Inc()
		e.log.Error("baseline load failed", zap.Error(err))
		if e.listener != nil {
			e.listener.OnError(err.Error())
		}
	}

	e.post(feed.EvBaselineLoaded{
		Notifications:    baseline.Notifications,
		Messages:         baseline.Messages,
		OnlineUsers:      baseline.OnlineUsers,
		Profile:          baseline.Profile,
		HasNotifications: baseline.Sections.Notifications,
		HasMessages:      baseline.Sections.Messages,
		HasPresence:      baseline.Sections.Presence,
		HasProfile:       baseline.Sections.Profile,
		ServerUnread:     baseline.UnreadCount,
		Degraded:         baseline.Degraded,
		NowMs:            e.nowMs(),
	})
}

func (e *Engine) finishCommand(cmdID string, call func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(e.ctx, feed.AckTimeoutMs*time.Millisecond)
	defer cancel()
	if err := call(ctx); err != nil {
		metrics.CommandRollbacks.WithLabelValues("rest").Inc()
		e.post(feed.EvCommandFailed{CmdID: cmdID, Err: err})
		return
	}
	e.post(feed.EvCommandAcked{CmdID: cmdID})
}

// translate maps a decoded transport event to a reducer input. Returning nil
// means the event is handled entirely at the engine layer (server errors).
func (e *Engine) translate(ev transport.Event) feed.Input {
	nowMs := e.nowMs()
	switch ev.Env.Type {
	case wire.TypeNotification, wire.TypePersonalNotification:
		p := ev.Payload.(*wire.Notification)
		if e.forwarder != nil {
			go func(n wire.Notification) {
				if err := e.forwarder.Forward(e.ctx, n); err != nil {
					e.log.Warn("notification forward failed", zap.String("id", n.ID), zap.Error(err))
				}
			}(*p)
		}
		return feed.EvNotification{N: *p, NowMs: nowMs}
	case wire.TypeUnreadBacklog:
		p := ev.Payload.(*wire.UnreadBacklogPayload)
		return feed.EvUnreadBacklog{Notifications: p.Notifications, NowMs: nowMs}
	case wire.TypeNotificationRead:
		p := ev.Payload.(*wire.NotificationRefPayload)
		return feed.EvNotificationRead{ID: p.ID, AtMs: p.AtMs, NowMs: nowMs}
	case wire.TypeNotificationArchived:
		p := ev.Payload.(*wire.NotificationRefPayload)
		return feed.EvNotificationArchived{ID: p.ID, AtMs: p.AtMs, NowMs: nowMs}
	case wire.TypeNotificationDeleted:
		p := ev.Payload.(*wire.NotificationRefPayload)
		return feed.EvNotificationDeleted{ID: p.ID, NowMs: nowMs}
	case wire.TypeChatMessage:
		p := ev.Payload.(*wire.ChatMessage)
		return feed.EvChatMessage{M: *p, NowMs: nowMs}
	case wire.TypeMessageAck:
		p := ev.Payload.(*wire.MessageAckPayload)
		return feed.EvMessageAck{
			ClientMsgID: p.ClientMsgID,
			ServerMsgID: p.ServerMsgID,
			CreatedAt:   p.CreatedAt,
			NowMs:       nowMs,
		}
	case wire.TypeMessageDeleted:
		p := ev.Payload.(*wire.MessageRefPayload)
		return feed.EvMessageDeleted{ID: p.ID, NowMs: nowMs}
	case wire.TypeAllMessagesDeleted:
		return feed.EvAllMessagesDeleted{NowMs: nowMs}
	case wire.TypeOnlineUsers:
		p := ev.Payload.(*wire.OnlineUsersPayload)
		return feed.EvPresence{UserIDs: p.UserIDs}
	case wire.TypeTypingStart:
		p := ev.Payload.(*wire.TypingPayload)
		return feed.EvTypingStart{UserID: p.UserID, NowMs: nowMs}
	case wire.TypeTypingStop:
		p := ev.Payload.(*wire.TypingPayload)
		return feed.EvTypingStop{UserID: p.UserID}
	case wire.TypeError:
		p := ev.Payload.(*wire.ErrorPayload)
		e.log.Warn("server error event", zap.String("code", p.Code), zap.String("message", p.Message))
		if e.listener != nil {
			e.listener.OnError(p.Message)
		}
		return nil
	default:
		return nil
	}
}

func (e *Engine) post(in feed.Input) {
	select {
	case e.inputs <- in:
	case <-e.ctx.Done():
	}
}

func (e *Engine) nowMs() int64 {
	return e.clock.Now().UnixMilli()
}
