// Package eventbus provides an in-process pub/sub bus for state change
// events. Every successful state write publishes a change; subscribers like
// the WebSocket push endpoint receive them without polling the store.
package eventbus

import (
	"strconv"
	"sync"
)

// Op identifies what kind of change happened to a session row.
type Op string

const (
	OpSessionCreated Op = "session_created"
	OpSessionUpdated Op = "session_updated"
	OpSessionDeleted Op = "session_deleted"
)

// Change represents a single state mutation in the bus.
type Change struct {
	Op          Op          `json:"op"`
	ProjectPath string      `json:"projectPath"`
	SessionID   string      `json:"sessionId"`
	Data        interface{} `json:"data,omitempty"` // op-specific payload (e.g. the updated session)
}

// Bus is an in-process event bus for state changes.
// It uses a simple broadcast pattern where all subscribers receive all events.
// Thread-safe for concurrent publish/subscribe operations.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Change
	nextID      int
	closed      bool
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan Change),
	}
}

// Subscribe creates a new subscription and returns a channel for receiving
// changes. The returned unsubscribe function must be called to clean up.
// The channel is buffered to avoid blocking publishers.
func (b *Bus) Subscribe() (changes <-chan Change, unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Change)
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	id := strconv.Itoa(b.nextID)
	ch := make(chan Change, 100)
	b.subscribers[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subscribers[id]; ok {
			close(ch)
			delete(b.subscribers, id)
		}
	}
}

// Publish sends a change to all subscribers.
// Non-blocking: if a subscriber's channel is full, the change is dropped for
// that subscriber so slow consumers cannot stall writers.
func (b *Bus) Publish(change Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- change:
		default:
		}
	}
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
