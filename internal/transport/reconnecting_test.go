package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler func(n int32, conn *gws.Conn)) *httptest.Server {
	t.Helper()
	upgrader := gws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	var conns int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(atomic.AddInt32(&conns, 1), conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func toWS(url string) string {
	return "ws" + strings.TrimPrefix(url, "http")
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestReconnectingDeliversFramesAndRedials(t *testing.T) {
	server := newServer(t, func(n int32, conn *gws.Conn) {
		_ = conn.WriteMessage(gws.TextMessage, []byte("frame"))
		if n == 1 {
			return // drop the first connection
		}
		_, _, _ = conn.ReadMessage()
	})

	tr := NewReconnecting(Config{URL: toWS(server.URL), InitialBackoff: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	require.Equal(t, EventConnected, next(t, tr.Events()).Kind)
	msg := next(t, tr.Events())
	require.Equal(t, EventMessage, msg.Kind)
	require.Equal(t, "frame", string(msg.Data))
	require.Equal(t, EventDisconnected, next(t, tr.Events()).Kind)
	require.Equal(t, EventConnected, next(t, tr.Events()).Kind)
	require.Equal(t, EventMessage, next(t, tr.Events()).Kind)

	require.GreaterOrEqual(t, tr.Metrics().Connects, int64(2))

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	for range tr.Events() {
	}
}

func TestReconnectingSendRequiresConnection(t *testing.T) {
	tr := NewReconnecting(Config{URL: "ws://127.0.0.1:1/ws"})
	err := tr.Send(context.Background(), []byte("x"))
	require.True(t, errors.Is(err, ErrNotConnected))
}

func TestReconnectingSendReachesServer(t *testing.T) {
	got := make(chan string, 1)
	server := newServer(t, func(_ int32, conn *gws.Conn) {
		_, data, err := conn.ReadMessage()
		if err == nil {
			got <- string(data)
		}
		_, _, _ = conn.ReadMessage()
	})

	tr := NewReconnecting(Config{URL: toWS(server.URL)})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Run(ctx) }()

	require.Equal(t, EventConnected, next(t, tr.Events()).Kind)
	require.NoError(t, tr.Send(ctx, []byte(`{"event":"heartbeat"}`)))

	select {
	case frame := <-got:
		require.Equal(t, `{"event":"heartbeat"}`, frame)
	case <-time.After(3 * time.Second):
		t.Fatal("server never saw the frame")
	}
}

func TestReconnectingGivesUp(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := toWS(server.URL)
	server.Close()

	tr := NewReconnecting(Config{URL: url, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, MaxAttempts: 3})
	err := tr.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "giving up after 3 attempts")

	_, open := <-tr.Events()
	require.False(t, open)
}

func TestReconnectingBacksOffAfterImmediateClose(t *testing.T) {
	var dials atomic.Int32
	server := newServer(t, func(int32, *gws.Conn) {
		dials.Add(1)
	})

	tr := NewReconnecting(Config{URL: toWS(server.URL), InitialBackoff: 200 * time.Millisecond, MaxBackoff: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	events := 0
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range tr.Events() {
			events++
		}
	}()

	err := tr.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	<-drained

	require.GreaterOrEqual(t, dials.Load(), int32(1))
	require.LessOrEqual(t, dials.Load(), int32(5))
	require.LessOrEqual(t, events, 10)
}

func TestEventKindString(t *testing.T) {
	require.Equal(t, "connected", EventConnected.String())
	require.Equal(t, "disconnected", EventDisconnected.String())
	require.Equal(t, "message", EventMessage.String())
	require.Equal(t, "unknown", EventKind(0).String())
}
