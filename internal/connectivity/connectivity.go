// Package connectivity provides the process-wide "is the network usable" signal.
package connectivity

import (
	"sync"
	"sync/atomic"

	"github.com/radclaudiu/ProductivaWorking-sub000/internal/logging"
)

// Oracle reports the last known network state. IsAvailable never blocks.
type Oracle interface {
	IsAvailable() bool
}

// Static is an Oracle with a fixed answer.
type Static bool

// IsAvailable implements Oracle.
func (s Static) IsAvailable() bool {
	return bool(s)
}

// Monitor holds the network state fed by platform callbacks or a Prober, and fans
// changes out to subscribers.
type Monitor struct {
	available atomic.Bool

	mu     sync.Mutex
	subs   map[int]chan bool
	nextID int
}

// NewMonitor creates a Monitor with an initial state.
func NewMonitor(initial bool) *Monitor {
	m := &Monitor{subs: make(map[int]chan bool)}
	m.available.Store(initial)
	return m
}

// IsAvailable implements Oracle.
func (m *Monitor) IsAvailable() bool {
	return m.available.Load()
}

// Set records the network state and reports whether it changed. Subscribers are only
// notified on changes.
func (m *Monitor) Set(available bool) bool {
	// The swap and the fan-out share one critical section so subscribers see
	// changes in the order they were stored.
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.available.CompareAndSwap(!available, available) {
		return false
	}
	logging.Info("connectivity changed", map[string]interface{}{"available": available})

	for _, ch := range m.subs {
		// Keep only the latest state for slow readers.
		select {
		case <-ch:
		default:
		}
		ch <- available
	}
	return true
}

// Subscribe returns a channel receiving every state change and a function that
// unsubscribes and closes it. A reader that falls behind only sees the latest state.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}
