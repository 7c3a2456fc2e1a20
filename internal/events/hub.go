// Package events provides the WebSocket hub that pushes sync, connectivity and
// pending-count notifications to local user interfaces.
package events

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/logging"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/models"
	syncpkg "github.com/radclaudiu/ProductivaWorking-sub000/internal/sync"
	"github.com/radclaudiu/ProductivaWorking-sub000/internal/uuid"
)

// =====================================================
// Event Types
// =====================================================

const (
	EventSyncStarted          = string(syncpkg.EventStarted)
	EventSyncCompleted        = string(syncpkg.EventCompleted)
	EventSyncFailed           = string(syncpkg.EventFailed)
	EventSyncConflictDetected = string(syncpkg.EventConflict)
	EventConnectivityChanged  = "connectivity.changed"
	EventPendingChanged       = "pending.changed"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Envelope wraps every message sent to clients.
type Envelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

type message struct {
	kind    string
	payload []byte
}

// Hub maintains client connections and broadcasts events to them.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client

	broadcast  chan message
	register   chan *client
	unregister chan *client
	done       chan struct{}
	closeOnce  sync.Once
}

// NewHub creates a hub and starts its dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[string]*client),
		broadcast:  make(chan message, sendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     localOrigin,
	}
	go h.run()
	return h
}

// localOrigin accepts requests without an Origin header and browser pages served from
// the loopback interface.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for id, c := range h.clients {
				delete(h.clients, id)
				c.close()
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client connected", map[string]interface{}{"client": c.id, "total": total})

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				c.close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client disconnected", map[string]interface{}{"client": c.id, "total": total})

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				if !c.wants(msg.kind) {
					continue
				}
				if !c.enqueue(msg.payload) {
					// Send buffer full: drop the client rather than stall the hub.
					delete(h.clients, id)
					c.close()
					logging.Warn("Dropped slow WebSocket client", map[string]interface{}{"client": id})
				}
			}
			h.mu.Unlock()
		}
	}
}

// Close disconnects every client and stops the hub. Later broadcasts are dropped.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends an event to every client subscribed to eventType. It never blocks:
// when the queue is full the event is dropped.
func (h *Hub) Broadcast(eventType string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	payload, err := json.Marshal(Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		logging.Error("Failed to marshal event", err, map[string]interface{}{"type": eventType})
		return
	}

	select {
	case <-h.done:
	case h.broadcast <- message{kind: eventType, payload: payload}:
	default:
		logging.Warn("Event queue full, dropping event", map[string]interface{}{"type": eventType})
	}
}

// =====================================================
// Event Broadcasters
// =====================================================

// OnSyncEvent implements syncpkg.EventHandler.
func (h *Hub) OnSyncEvent(e syncpkg.Event) {
	data := map[string]interface{}{"entity": e.Entity}

	switch e.Type {
	case syncpkg.EventCompleted:
		if r := e.Result; r != nil {
			data["uploaded"] = r.Uploaded
			data["deleted_sent"] = r.DeletedSent
			data["added"] = r.Added
			data["updated"] = r.Updated
			data["deleted"] = r.Deleted
			data["conflicts"] = r.Conflicts
			data["skipped"] = r.Skipped
			data["duration"] = r.Duration.Milliseconds()
			data["last_sync"] = r.LastSync
		}
	case syncpkg.EventFailed:
		data["error"] = e.Error
		data["error_code"] = e.Code
	case syncpkg.EventConflict:
		if e.Result != nil {
			data["conflicts"] = e.Result.Conflicts
		}
		data["resolution"] = models.ResolutionServerWins
	}

	h.Broadcast(string(e.Type), data)
}

// BroadcastConnectivity notifies clients that the network state changed.
func (h *Hub) BroadcastConnectivity(available bool) {
	h.Broadcast(EventConnectivityChanged, map[string]interface{}{"available": available})
}

// BroadcastPending notifies clients of a new pending count for entity.
func (h *Hub) BroadcastPending(entity string, pending int) {
	h.Broadcast(EventPendingChanged, map[string]interface{}{
		"entity":  entity,
		"pending": pending,
	})
}

// FollowConnectivity broadcasts every state received on updates until ctx is done or
// updates is closed.
func (h *Hub) FollowConnectivity(ctx context.Context, updates <-chan bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case available, ok := <-updates:
			if !ok {
				return
			}
			h.BroadcastConnectivity(available)
		}
	}
}

// =====================================================
// Connections
// =====================================================

// ServeHTTP upgrades the request to a WebSocket connection and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	c := &client{
		id:            uuid.New(),
		conn:          conn,
		hub:           h,
		send:          make(chan []byte, sendBuffer),
		subscriptions: make(map[string]bool),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
