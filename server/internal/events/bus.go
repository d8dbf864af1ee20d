// Package events fans out application events to live subscribers such as
// the per-user WebSocket stream.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published on the bus.
const (
	CreditsUpdated    = "credits.updated"
	PurchaseCompleted = "purchase.completed"
	PurchaseFailed    = "purchase.failed"
	ProjectCreated    = "project.created"
	ProjectUpdated    = "project.updated"
	LogEntry          = "log.entry"
)

// Event is a single message on the bus. UserID scopes the event to one
// account; an empty UserID marks a system event.
type Event struct {
	Type      string          `json:"type"`
	UserID    string          `json:"-"`
	Timestamp time.Time       `json:"ts"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type subscription struct {
	userID string          // "" receives every event
	types  map[string]bool // nil = all types
}

// Bus is a fan-out pub/sub event bus. Subscribers receive events on a buffered
// channel. Slow subscribers miss events (non-blocking publish).
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]subscription
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[chan Event]subscription),
	}
}

// Subscribe returns a channel that receives events for userID matching the
// given types. An empty userID subscribes to all events of all users. If no
// types are given, all types are received. The channel is buffered (64).
func (b *Bus) Subscribe(userID string, types ...string) chan Event {
	ch := make(chan Event, 64)
	sub := subscription{userID: userID}
	if len(types) > 0 {
		sub.types = make(map[string]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	b.mu.Lock()
	b.subs[ch] = sub
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Publish sends an event to all matching subscribers. If a subscriber's
// buffer is full the event is dropped for that subscriber.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, sub := range b.subs {
		if sub.userID != "" && sub.userID != e.UserID {
			continue
		}
		if sub.types != nil && !sub.types[e.Type] {
			continue
		}
		select {
		case ch <- e:
		default:
		}
	}
}

// PublishUser marshals data and publishes it as an event of eventType for userID.
func (b *Bus) PublishUser(userID, eventType string, data any) {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	b.Publish(Event{
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now(),
		Data:      raw,
	})
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes all subscribers and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}
