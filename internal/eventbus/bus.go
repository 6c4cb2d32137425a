package eventbus

import (
	"sync"
	"time"

	"ledgerflow/internal/storage"
)

// Event represents an alert event routed through the bus.
type Event struct {
	Type      string
	RuleID    string
	Timestamp time.Time
	Doc       storage.Doc
}

// Bus is an in-process event bus that routes alert events to subscribers
// based on rule type. It uses Go channels for delivery and is safe for
// concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan<- Event
	all         []chan<- Event
	closed      bool
}

// New creates a new Bus ready for use.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan<- Event),
	}
}

// Subscribe registers a channel to receive events of the given rule type.
// The caller is responsible for creating the channel with sufficient
// buffer capacity; slow subscribers will have events dropped.
func (b *Bus) Subscribe(eventType string, ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
}

// SubscribeAll registers a channel to receive every event regardless of
// type. Live stream consumers use this.
func (b *Bus) SubscribeAll(ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, ch)
}

// Unsubscribe removes a channel from all subscription lists.
func (b *Bus) Unsubscribe(ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventType, subs := range b.subscribers {
		b.subscribers[eventType] = removeChan(subs, ch)
	}
	b.all = removeChan(b.all, ch)
}

func removeChan(subs []chan<- Event, ch chan<- Event) []chan<- Event {
	out := subs[:0]
	for _, c := range subs {
		if c != ch {
			out = append(out, c)
		}
	}
	return out
}

// Publish sends an event to all subscribers registered for that event type.
// If a subscriber's channel is full, the event is dropped for that subscriber.
// Publish is a no-op after Close has been called.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[evt.Type] {
		select {
		case ch <- evt:
		default:
			// drop if subscriber is slow
		}
	}
	for _, ch := range b.all {
		select {
		case ch <- evt:
		default:
		}
	}
}

// PublishAlert adapts a committed alert event document onto the bus.
func (b *Bus) PublishAlert(doc storage.Doc) {
	evt := Event{Timestamp: time.Now().UTC(), Doc: doc}
	if t, ok := doc["type"].(string); ok {
		evt.Type = t
	}
	if id, ok := doc["ruleId"].(string); ok {
		evt.RuleID = id
	}
	b.Publish(evt)
}

// Close marks the bus as closed. After Close, Publish is a no-op.
// Close does not close subscriber channels; that is the caller's responsibility.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
