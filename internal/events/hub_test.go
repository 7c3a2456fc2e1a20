package events

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	syncpkg "github.com/radclaudiu/ProductivaWorking-sub000/internal/sync"
)

// =====================================================
// Test Helpers
// =====================================================

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub()
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string) *websocket.Conn {
	t.Helper()
	before := hub.ClientCount()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() <= before {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return env
}

// =====================================================
// Broadcast Tests
// =====================================================

func TestHub_Broadcast(t *testing.T) {
	hub, url := startHub(t)
	a := dial(t, hub, url)
	b := dial(t, hub, url)

	hub.BroadcastPending("tasks", 3)

	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		if env.Type != EventPendingChanged {
			t.Errorf("Type = %q, want %q", env.Type, EventPendingChanged)
		}
		if env.Data["entity"] != "tasks" || env.Data["pending"] != float64(3) {
			t.Errorf("Data = %v", env.Data)
		}
		if env.Timestamp == 0 {
			t.Error("Timestamp not set")
		}
	}
}

func TestHub_OnSyncEvent(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url)

	tests := []struct {
		event syncpkg.Event
		key   string
		want  interface{}
	}{
		{syncpkg.Event{Type: syncpkg.EventStarted, Entity: "tasks"}, "entity", "tasks"},
		{syncpkg.Event{Type: syncpkg.EventCompleted, Entity: "tasks",
			Result: &syncpkg.Result{Uploaded: 2, Duration: 1500 * time.Millisecond}}, "uploaded", float64(2)},
		{syncpkg.Event{Type: syncpkg.EventFailed, Entity: "tasks", Error: "down", Code: "NETWORK_UNAVAILABLE"},
			"error_code", "NETWORK_UNAVAILABLE"},
		{syncpkg.Event{Type: syncpkg.EventConflict, Entity: "tasks",
			Result: &syncpkg.Result{Conflicts: 1}}, "resolution", "server_wins"},
	}

	var handler syncpkg.EventHandler = hub
	for _, tt := range tests {
		handler.OnSyncEvent(tt.event)
		env := readEnvelope(t, conn)
		if env.Type != string(tt.event.Type) {
			t.Errorf("Type = %q, want %q", env.Type, tt.event.Type)
			continue
		}
		if env.Data[tt.key] != tt.want {
			t.Errorf("%s: Data[%s] = %v, want %v", env.Type, tt.key, env.Data[tt.key], tt.want)
		}
	}
}

func TestHub_subscribeFilters(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url)

	conn.WriteJSON(map[string]interface{}{"action": "subscribe", "events": []string{EventConnectivityChanged}})
	if ack := readJSON(t, conn); ack["action"] != "subscribe_ack" {
		t.Fatalf("ack = %v", ack)
	}

	hub.BroadcastPending("tasks", 1)
	hub.BroadcastConnectivity(false)

	env := readEnvelope(t, conn)
	if env.Type != EventConnectivityChanged || env.Data["available"] != false {
		t.Errorf("first event = %+v, want connectivity only", env)
	}
}

func TestHub_ping(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url)

	conn.WriteJSON(map[string]interface{}{"action": "ping"})
	if msg := readJSON(t, conn); msg["action"] != "pong" {
		t.Errorf("reply = %v, want pong", msg)
	}
}

func TestHub_FollowConnectivity(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url)

	updates := make(chan bool, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.FollowConnectivity(ctx, updates)

	updates <- true
	env := readEnvelope(t, conn)
	if env.Type != EventConnectivityChanged || env.Data["available"] != true {
		t.Errorf("event = %+v", env)
	}
}

// =====================================================
// Lifecycle Tests
// =====================================================

func TestHub_disconnect(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_Close(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url)

	hub.Close()
	hub.Close()
	hub.BroadcastPending("tasks", 1)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if err == nil {
		t.Fatal("ReadMessage() succeeded after Close")
	}
	if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseNoStatusReceived && closeErr.Code != websocket.CloseNormalClosure {
		t.Errorf("close code = %d", closeErr.Code)
	}
}

func TestLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:7420", true},
		{"http://[::1]:7420", true},
		{"https://evil.example.com", false},
		{"%zz", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := localOrigin(r); got != tt.want {
			t.Errorf("localOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
