// Package transport owns the persistent bidirectional connection to the
// livefeed server: dialing, the inbound event stream, and automatic
// reconnection with jittered exponential backoff.
package transport

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/livefeed/livefeed-go/internal/metrics"
	"github.com/livefeed/livefeed-go/internal/wire"
)

// Status tracks the channel lifecycle. Owned solely by the Channel.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// ErrNotConnected rejects sends while the channel is down.
var ErrNotConnected = errors.New("not connected")

// ErrUnauthenticated reports a rejected or expired token. The channel stops
// retrying; callers must re-authenticate and build a new channel.
var ErrUnauthenticated = errors.New("unauthenticated")

// streamPath is the websocket endpoint on the server.
const streamPath = "/v1/stream"

// EventKind discriminates stream items.
type EventKind int

const (
	// KindInbound is a decoded server event.
	KindInbound EventKind = iota
	// KindConnected marks a successful (re)connect. Every inbound event that
	// follows it was received on that connection.
	KindConnected
	// KindDisconnected marks a connection drop. Final is true when the
	// channel will not retry.
	KindDisconnected
)

// Event is one item on the stream: a decoded inbound event, or a lifecycle
// marker. Lifecycle travels in-band so consumers observe connects,
// disconnects, and the events of each connection in exactly the order they
// happened.
type Event struct {
	Kind    EventKind
	Env     wire.Envelope
	Payload any

	// Reason and Final are set on KindDisconnected.
	Reason string
	Final  bool
}

// Channel maintains one connection to the server and exposes a typed inbound
// event stream. On unexpected close it reconnects with backoff until Close is
// called; authentication failures stop the retry loop instead.
type Channel struct {
	serverURL string
	token     string
	deviceID  string
	dialer    *websocket.Dialer
	log       *zap.Logger

	events chan Event

	mu      sync.Mutex
	conn    *websocket.Conn
	status  Status
	termErr error
	started bool

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Channel) {
		if log != nil {
			c.log = log
		}
	}
}

// WithDeviceID attaches a stable device identifier to the dial handshake.
func WithDeviceID(id string) Option {
	return func(c *Channel) { c.deviceID = id }
}

// WithDialer replaces the websocket dialer (used by tests).
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) {
		if d != nil {
			c.dialer = d
		}
	}
}

// New creates a channel for the given server URL and bearer token.
func New(serverURL, token string, opts ...Option) *Channel {
	c := &Channel{
		serverURL: strings.TrimRight(serverURL, "/"),
		token:     token,
		dialer:    websocket.DefaultDialer,
		log:       zap.NewNop(),
		events:    make(chan Event, 256),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect validates the token and starts the connection loop.
//
// The loop runs until Close is called or authentication fails; transient dial
// and read errors are handled internally with backoff.
func (c *Channel) Connect() error {
	if err := checkTokenExpiry(c.token); err != nil {
		return err
	}
	c.mu.Lock()
	c.status = StatusConnecting
	c.started = true
	c.mu.Unlock()
	go c.run()
	return nil
}

// Events returns the stream of lifecycle markers and decoded inbound events.
// The channel is closed when the connection loop exits; Err reports the
// terminal error, if any.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Err returns the terminal error after Events closes (nil on clean shutdown).
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.termErr
}

// Status returns the current connection state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Send writes an envelope to the server. It fails fast with ErrNotConnected
// when the channel is not connected.
func (c *Channel) Send(env wire.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConnected || c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write %s: %w", env.Type, err)
	}
	return nil
}

// Close shuts the channel down and waits for the loop to exit. Safe to call
// multiple times, including after a Connect that failed its token check.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()
	})
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.doneCh
	}
	return nil
}

func (c *Channel) run() {
	defer close(c.doneCh)
	defer close(c.events)
	defer c.setStatus(StatusDisconnected)

	attempt := 0
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		conn, resp, err := c.dialer.Dial(c.streamURL(), c.authHeader())
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				c.log.Warn("stream auth rejected", zap.Int("status", resp.StatusCode))
				c.terminate(ErrUnauthenticated, "unauthenticated")
				return
			}
			delay := backoffDelay(attempt)
			attempt++
			c.log.Debug("dial failed, backing off",
				zap.Error(err),
				zap.Duration("delay", delay),
				zap.Int("attempt", attempt))
			c.setStatus(StatusReconnecting)
			select {
			case <-time.After(delay):
				continue
			case <-c.stopCh:
				return
			}
		}

		// The dial may have raced Close; never install a connection after
		// stop, or nothing would ever close it.
		c.mu.Lock()
		select {
		case <-c.stopCh:
			c.mu.Unlock()
			_ = conn.Close()
			return
		default:
		}
		c.conn = conn
		c.status = StatusConnected
		c.mu.Unlock()

		attempt = 0
		metrics.Reconnects.Inc()
		c.log.Info("stream connected")
		c.emit(Event{Kind: KindConnected})

		reason := c.readLoop(conn)
		_ = conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		select {
		case <-c.stopCh:
			c.emit(Event{Kind: KindDisconnected, Reason: "closed", Final: true})
			return
		default:
		}

		c.setStatus(StatusReconnecting)
		c.emit(Event{Kind: KindDisconnected, Reason: reason})
		delay := backoffDelay(attempt)
		attempt++
		c.log.Info("stream disconnected, reconnecting",
			zap.String("reason", reason),
			zap.Duration("delay", delay))
		select {
		case <-time.After(delay):
		case <-c.stopCh:
			return
		}
	}
}

// readLoop decodes inbound frames until the connection errors out. Malformed
// payloads are logged and dropped; they never crash the stream.
func (c *Channel) readLoop(conn *websocket.Conn) (reason string) {
	for {
		var env wire.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err.Error()
		}
		payload, err := wire.DecodePayload(env)
		if err != nil {
			metrics.MalformedEvents.Inc()
			c.log.Warn("dropping malformed event", zap.String("type", env.Type), zap.Error(err))
			continue
		}
		select {
		case c.events <- Event{Kind: KindInbound, Env: env, Payload: payload}:
		case <-c.stopCh:
			return "closed"
		}
	}
}

// emit delivers a lifecycle marker in stream order. During shutdown delivery
// is best effort: a full buffer must not block teardown.
func (c *Channel) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.stopCh:
		select {
		case c.events <- ev:
		default:
		}
	}
}

func (c *Channel) streamURL() string {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return c.serverURL + streamPath
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + streamPath
	return u.String()
}

func (c *Channel) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.token)
	if c.deviceID != "" {
		h.Set("X-Livefeed-Device", c.deviceID)
	}
	return h
}

func (c *Channel) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Channel) terminate(err error, reason string) {
	c.mu.Lock()
	c.termErr = err
	c.status = StatusDisconnected
	c.mu.Unlock()
	c.emit(Event{Kind: KindDisconnected, Reason: reason, Final: true})
}

// checkTokenExpiry rejects tokens that are already expired per their JWT
// claims, before any dial. Opaque (non-JWT) tokens pass through; the server
// remains the authority either way.
func checkTokenExpiry(token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrUnauthenticated)
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return fmt.Errorf("%w: token expired at %s", ErrUnauthenticated, claims.ExpiresAt.Time.Format(time.RFC3339))
	}
	return nil
}
