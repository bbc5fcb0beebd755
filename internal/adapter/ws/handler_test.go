package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/msingatullin/ccontentcloud-sub000/internal/adapter/ws"
)

func dialHub(t *testing.T, hub *ws.Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func waitForConnections(t *testing.T, hub *ws.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ConnectionCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("connection count = %d, want %d", hub.ConnectionCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastEvent(t *testing.T) {
	hub := ws.NewHub()
	c := dialHub(t, hub)
	waitForConnections(t, hub, 1)

	hub.BroadcastEvent(context.Background(), "post.published", map[string]string{
		"post_id": "p1",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg ws.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "post.published" {
		t.Errorf("type = %q", msg.Type)
	}

	var payload map[string]string
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["post_id"] != "p1" {
		t.Errorf("payload = %v", payload)
	}
}

func TestHubBroadcastWithoutClients(t *testing.T) {
	hub := ws.NewHub()
	// Must not panic or block.
	hub.BroadcastEvent(context.Background(), "rule.executed", map[string]string{"rule_id": "r1"})

	if hub.ConnectionCount() != 0 {
		t.Errorf("connection count = %d", hub.ConnectionCount())
	}
}

func TestHubRemovesDisconnectedClients(t *testing.T) {
	hub := ws.NewHub()
	c := dialHub(t, hub)
	waitForConnections(t, hub, 1)

	_ = c.Close(websocket.StatusNormalClosure, "")
	waitForConnections(t, hub, 0)
}
