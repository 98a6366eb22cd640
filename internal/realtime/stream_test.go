package realtime

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestServeSSE(t *testing.T) {
	hub := NewHub(zap.NewNop())
	b := NewBridge(hub, nil, "solo", zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.ServeSSE(w, r, "user:1")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	readLine := func() string {
		if !lines.Scan() {
			t.Fatalf("stream ended: %v", lines.Err())
		}
		return lines.Text()
	}

	if got := readLine(); got != ": connected" {
		t.Fatalf("first line = %q", got)
	}
	readLine()

	if ok, err := hub.Broadcast(ctx, "user:1", []byte(`{"id":"n1"}`)); !ok || err != nil {
		t.Fatalf("broadcast: ok=%v err=%v", ok, err)
	}

	if got := readLine(); got != "event: notification" {
		t.Fatalf("event line = %q", got)
	}
	if got := readLine(); got != `data: {"id":"n1"}` {
		t.Fatalf("data line = %q", got)
	}
}

func TestServeWS(t *testing.T) {
	hub := NewHub(zap.NewNop())
	b := NewBridge(hub, nil, "solo", zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.ServeWS(w, r, "client:3")
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer ws.Close()

	waitFor(t, "registration", func() bool { return hub.Connected("client:3") })

	if ok, err := hub.Broadcast(context.Background(), "client:3", []byte(`{"id":"n2"}`)); !ok || err != nil {
		t.Fatalf("broadcast: ok=%v err=%v", ok, err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(msg) != `{"id":"n2"}` {
		t.Errorf("unexpected message %s", msg)
	}

	// A second connection for the same recipient closes this one.
	hub.Register("client:3")
	if _, _, err := ws.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}
}
