package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func newStreamServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_ReceivesMessages(t *testing.T) {
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":1}`)); err != nil {
			return
		}
		// Hold the connection open until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	got := make(chan []byte, 1)
	c := NewClient(Config{URL: wsURL(srv), Logger: zerolog.Nop()})
	c.SetHandlers(func(msg []byte) { got <- msg }, nil, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	select {
	case msg := <-got:
		if string(msg) != `{"hello":1}` {
			t.Errorf("unexpected message: %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestWritePumpStopsWithConnection(t *testing.T) {
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	c := NewClient(Config{URL: wsURL(srv), Logger: zerolog.Nop()})

	// A replaced connection's pumps must exit even while the client as a
	// whole keeps running.
	stop := make(chan struct{})
	writeExited := make(chan struct{})
	pingExited := make(chan struct{})
	go func() { c.writePump(conn, stop); close(writeExited) }()
	go func() { c.pingPump(conn, stop); close(pingExited) }()

	close(stop)

	for name, exited := range map[string]chan struct{}{"write": writeExited, "ping": pingExited} {
		select {
		case <-exited:
		case <-time.After(time.Second):
			t.Fatalf("%s pump kept running after its connection was replaced", name)
		}
	}
}

func TestClient_ReconnectsAndDeliversWrites(t *testing.T) {
	var received int32
	var firstConn int32
	connects := make(chan struct{}, 4)

	srv := newStreamServer(t, func(conn *websocket.Conn) {
		// Drop the first connection immediately to force a reconnect.
		if atomic.CompareAndSwapInt32(&firstConn, 0, 1) {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			atomic.AddInt32(&received, 1)
		}
	})

	c := NewClient(Config{URL: wsURL(srv), ReconnectWait: 10 * time.Millisecond, Logger: zerolog.Nop()})
	c.SetHandlers(nil, func() { connects <- struct{}{} }, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	for i := 0; i < 2; i++ {
		select {
		case <-connects:
		case <-time.After(2 * time.Second):
			t.Fatal("client did not reconnect after the server dropped it")
		}
	}

	if err := c.Send([]byte("subscribe")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&received) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("message was not delivered on the reconnected connection")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConnectWithRetry_StopsOnContextCancel(t *testing.T) {
	// Nothing listens here; every dial fails fast and the retry loop spins
	// until the context expires.
	c := NewClient(Config{
		URL:           "ws://127.0.0.1:1",
		ReconnectWait: 10 * time.Millisecond,
		Logger:        zerolog.Nop(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := c.ConnectWithRetry(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ConnectWithRetry() = %v, want context deadline error", err)
	}
}

func TestConnectWithRetry_BoundedRetries(t *testing.T) {
	c := NewClient(Config{
		URL:           "ws://127.0.0.1:1",
		ReconnectWait: time.Millisecond,
		MaxRetries:    3,
		Logger:        zerolog.Nop(),
	})

	if err := c.ConnectWithRetry(context.Background()); !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("ConnectWithRetry() = %v, want %v", err, ErrMaxRetriesExceeded)
	}
}
