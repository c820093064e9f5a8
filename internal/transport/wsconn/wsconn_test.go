package wsconn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mohammed-shakir/stream-optimizer/internal/transport"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestReceiveAndSend(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"latency_ms":42}`))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		got <- string(msg)
		// hold the connection until the client closes it
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New(Config{URL: wsURL(srv), MaxRetries: 3}, nil)
	msg, err := c.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(msg) != `{"latency_ms":42}` {
		t.Fatalf("msg=%s", msg)
	}
	if !c.Connected() {
		t.Fatalf("expected connected")
	}

	if err := c.Send(ctx, transport.Envelope{Payload: []byte(`{"bitrate_kbps":5000}`)}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case s := <-got:
		if s != `{"bitrate_kbps":5000}` {
			t.Fatalf("server got %s", s)
		}
	case <-ctx.Done():
		t.Fatalf("server never received the recommendation")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := c.Receive(ctx); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("receive after close err=%v", err)
	}
	if c.Connected() {
		t.Fatalf("connected after close")
	}
}

func TestReceiveTimeoutKeepsConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	c := New(Config{URL: wsURL(srv), MaxRetries: 3}, nil)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
	if !c.Connected() {
		t.Fatalf("timeout should not drop the connection")
	}
}

func TestRedialAfterDrop(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, fmt.Appendf(nil, `{"conn":%d}`, n))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
		_ = conn.Close()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := New(Config{URL: wsURL(srv), MaxRetries: 3}, nil)
	defer c.Close()

	msg, err := c.Receive(ctx)
	if err != nil || string(msg) != `{"conn":1}` {
		t.Fatalf("first receive msg=%s err=%v", msg, err)
	}
	for i := 0; i < 5; i++ {
		msg, err = c.Receive(ctx)
		if err == nil && string(msg) == `{"conn":2}` {
			return
		}
	}
	t.Fatalf("client never redialed; last msg=%s err=%v", msg, err)
}

func TestDialGivesUp(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/metrics", MaxRetries: 1, DialTimeout: 100 * time.Millisecond}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.Receive(ctx); err == nil {
		t.Fatalf("expected dial error")
	}
}
