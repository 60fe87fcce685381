package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestDialAndEcho(t *testing.T) {
	server := newEchoServer(t)
	defer server.Close()

	header := http.Header{}
	header.Set("Authorization", "token")
	conn, _, err := Dial(context.Background(), wsURL(server), header, DefaultOptions())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"text": "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var echoed map[string]string
	if err := conn.ReadJSON(&echoed); err != nil {
		t.Fatalf("read: %v", err)
	}
	if echoed["text"] != "hello" {
		t.Fatalf("unexpected echo: %#v", echoed)
	}
}

func TestDialDoesNotRetryRejectedHandshake(t *testing.T) {
	server := newEchoServer(t)
	defer server.Close()

	opts := DefaultOptions()
	opts.RetryDelay = time.Hour
	start := time.Now()
	_, resp, err := Dial(context.Background(), wsURL(server), nil, opts)
	if err == nil {
		t.Fatalf("expected handshake error")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %#v", resp)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("rejected handshake should fail fast")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	server := newEchoServer(t)
	defer server.Close()

	header := http.Header{}
	header.Set("Authorization", "token")
	conn, _, err := Dial(context.Background(), wsURL(server), header, DefaultOptions())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.Close()
	_ = conn.Close()
	select {
	case <-conn.Done():
	default:
		t.Fatalf("done channel should be closed")
	}
}
