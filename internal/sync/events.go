package sync

import "time"

// EventType names a sync notification.
type EventType string

const (
	EventStarted   EventType = "sync.started"
	EventCompleted EventType = "sync.completed"
	EventFailed    EventType = "sync.failed"
	EventConflict  EventType = "sync.conflict_detected"
)

// Event is emitted at the edges of a sync run.
type Event struct {
	Type   EventType `json:"type"`
	Entity string    `json:"entity"`
	Time   time.Time `json:"time"`
	Result *Result   `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
	Code   string    `json:"code,omitempty"`
}

// EventHandler receives sync events. Handlers run on the syncing goroutine and must
// not block.
type EventHandler interface {
	OnSyncEvent(event Event)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(Event)

// OnSyncEvent implements EventHandler.
func (f EventHandlerFunc) OnSyncEvent(event Event) {
	f(event)
}
