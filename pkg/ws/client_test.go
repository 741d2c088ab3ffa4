package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recHandler struct {
	mu       sync.Mutex
	opens    int
	closes   int
	messages []string
	errs     []error
}

func (h *recHandler) OnOpen(c *Client) {
	h.mu.Lock()
	h.opens++
	h.mu.Unlock()
}

func (h *recHandler) OnMessage(c *Client, msgType int, data []byte) {
	h.mu.Lock()
	h.messages = append(h.messages, string(data))
	h.mu.Unlock()
}

func (h *recHandler) OnError(c *Client, err error) {
	h.mu.Lock()
	h.errs = append(h.errs, err)
	h.mu.Unlock()
}

func (h *recHandler) OnClose(c *Client) {
	h.mu.Lock()
	h.closes++
	h.mu.Unlock()
}

func (h *recHandler) snapshot() (opens, closes int, messages []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opens, h.closes, append([]string(nil), h.messages...)
}

func waitCond(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout: %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// feedServer numbers each accepted connection and drops the first one
// right after its greeting, so a reconnecting client sees two opens.
func feedServer(t *testing.T) *httptest.Server {
	var conns int32
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		n := atomic.AddInt32(&conns, 1)
		conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("hello %d", n)))
		if n == 1 {
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestReconnectAfterDrop(t *testing.T) {
	srv := feedServer(t)
	defer srv.Close()

	h := &recHandler{}
	client, err := Dial(context.Background(), wsURL(srv), h, Options{ReconnectWait: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	waitCond(t, func() bool {
		_, _, messages := h.snapshot()
		return len(messages) == 2
	}, "greeting from the redialed connection")

	opens, _, messages := h.snapshot()
	if opens != 2 {
		t.Fatalf("opens = %d, want 2 (one per connect)", opens)
	}
	if messages[0] != "hello 1" || messages[1] != "hello 2" {
		t.Fatalf("messages = %v", messages)
	}

	// The redialed connection accepts writes again.
	if err := client.SendText([]byte("ping")); err != nil {
		t.Fatalf("SendText after reconnect: %v", err)
	}
}

func TestNoReconnectWhenDisabled(t *testing.T) {
	srv := feedServer(t)
	defer srv.Close()

	h := &recHandler{}
	client, err := Dial(context.Background(), wsURL(srv), h, Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	waitCond(t, func() bool {
		_, closes, _ := h.snapshot()
		return closes == 1
	}, "client closed after first drop")

	opens, _, _ := h.snapshot()
	if opens != 1 {
		t.Fatalf("opens = %d, want 1", opens)
	}
	if err := client.SendText([]byte("ping")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendText after close = %v, want ErrNotConnected", err)
	}
}

func TestContextCancelClosesClient(t *testing.T) {
	srv := feedServer(t)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	h := &recHandler{}
	if _, err := Dial(ctx, wsURL(srv), h, Options{ReconnectWait: 10 * time.Millisecond}); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	cancel()
	waitCond(t, func() bool {
		_, closes, _ := h.snapshot()
		return closes == 1
	}, "OnClose after context cancel")

	// Close is idempotent: the pump shutting down must not fire it again.
	time.Sleep(50 * time.Millisecond)
	if _, closes, _ := h.snapshot(); closes != 1 {
		t.Fatalf("closes = %d, want exactly 1", closes)
	}
}
