package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/livefeed/livefeed-go/internal/wire"
)

var upgrader = websocket.Upgrader{}

func mustEnvelope(t *testing.T, eventType string, payload any) wire.Envelope {
	t.Helper()
	env, err := wire.NewEnvelope(eventType, payload)
	require.NoError(t, err)
	return env
}

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event stream closed early")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func waitConnected(t *testing.T, ch <-chan Event) {
	t.Helper()
	ev := recvEvent(t, ch)
	require.Equal(t, KindConnected, ev.Kind)
}

func TestChannelDeliversDecodedEvents(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		valid := mustEnvelope(t, wire.TypeNotification, wire.Notification{
			ID:        "n1",
			Scope:     wire.ScopeGeneral,
			CreatedAt: 1000,
		})
		require.NoError(t, conn.WriteJSON(valid))

		// Malformed: unknown type must be dropped without killing the stream.
		require.NoError(t, conn.WriteJSON(wire.Envelope{V: wire.Version, Type: "bogus"}))

		// Malformed: payload failing validation (missing id).
		raw, _ := json.Marshal(wire.TypingPayload{})
		require.NoError(t, conn.WriteJSON(wire.Envelope{V: wire.Version, Type: wire.TypeTypingStart, Payload: raw}))

		typing := mustEnvelope(t, wire.TypeTypingStart, wire.TypingPayload{UserID: "u2"})
		require.NoError(t, conn.WriteJSON(typing))

		// Keep the connection open until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ch := New(srv.URL, "token-1")
	require.NoError(t, ch.Connect())
	defer ch.Close()

	// The connect marker precedes every event of its connection.
	waitConnected(t, ch.Events())

	ev := recvEvent(t, ch.Events())
	require.Equal(t, KindInbound, ev.Kind)
	require.Equal(t, wire.TypeNotification, ev.Env.Type)
	n, ok := ev.Payload.(*wire.Notification)
	require.True(t, ok)
	require.Equal(t, "n1", n.ID)

	// The two malformed frames in between were dropped.
	ev = recvEvent(t, ch.Events())
	require.Equal(t, wire.TypeTypingStart, ev.Env.Type)
	tp, ok := ev.Payload.(*wire.TypingPayload)
	require.True(t, ok)
	require.Equal(t, "u2", tp.UserID)
}

func TestChannelSendRoundTrip(t *testing.T) {
	t.Parallel()

	received := make(chan wire.Envelope, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		var env wire.Envelope
		if err := conn.ReadJSON(&env); err == nil {
			received <- env
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ch := New(srv.URL, "token-1")
	require.NoError(t, ch.Connect())
	defer ch.Close()

	waitConnected(t, ch.Events())

	env := mustEnvelope(t, wire.TypeMessageSend, wire.MessageSendPayload{ClientMsgID: "tmp-1", Body: "hi"})
	require.NoError(t, ch.Send(env))

	select {
	case got := <-received:
		require.Equal(t, wire.TypeMessageSend, got.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestChannelSendBeforeConnectFails(t *testing.T) {
	t.Parallel()

	ch := New("http://127.0.0.1:0", "token-1")
	err := ch.Send(wire.Envelope{V: wire.Version, Type: wire.TypeMessageSend})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestChannelStopsOnAuthRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	ch := New(srv.URL, "bad-token")
	require.NoError(t, ch.Connect())

	ev := recvEvent(t, ch.Events())
	require.Equal(t, KindDisconnected, ev.Kind)
	require.True(t, ev.Final, "auth rejection must be final")

	// The event stream closes and the terminal error is surfaced.
	select {
	case _, ok := <-ch.Events():
		require.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("event stream never closed")
	}
	require.ErrorIs(t, ch.Err(), ErrUnauthenticated)
}

func TestConnectRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	ch := New("http://127.0.0.1:0", token)
	require.ErrorIs(t, ch.Connect(), ErrUnauthenticated)

	// The loop never started; Close must still return promptly.
	done := make(chan struct{})
	go func() {
		require.NoError(t, ch.Close())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close hung after a rejected Connect")
	}
}

func TestConnectAcceptsOpaqueToken(t *testing.T) {
	t.Parallel()
	require.NoError(t, checkTokenExpiry("not-a-jwt"))
	require.ErrorIs(t, checkTokenExpiry(""), ErrUnauthenticated)
}

func TestCloseDuringDialDoesNotHang(t *testing.T) {
	t.Parallel()

	// The server stalls the handshake so Close lands while the dial is in
	// flight, then goes quiet after upgrading. If the racing connection were
	// installed anyway, nothing would ever close it.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ch := New(srv.URL, "token-1")
	require.NoError(t, ch.Connect())
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		require.NoError(t, ch.Close())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close hung while a dial was in flight")
	}
}

func TestCloseOnQuietConnectionReturns(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ch := New(srv.URL, "token-1")
	require.NoError(t, ch.Connect())
	waitConnected(t, ch.Events())

	// The server never writes; Close must unblock the read loop itself.
	done := make(chan struct{})
	go func() {
		require.NoError(t, ch.Close())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close hung on a quiet connection")
	}
}

func TestBackoffDelayIsBounded(t *testing.T) {
	t.Parallel()

	for attempt := 0; attempt < 40; attempt++ {
		d := backoffDelay(attempt)
		require.Greater(t, d, time.Duration(0), "attempt %d", attempt)
		require.LessOrEqual(t, d, backoffCap+time.Millisecond, "attempt %d", attempt)
	}

	// Early attempts stay under their exponential ceiling.
	for i := 0; i < 100; i++ {
		require.LessOrEqual(t, backoffDelay(0), backoffBase+time.Millisecond)
	}
}
