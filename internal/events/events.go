// Package events is an in-process pub/sub used by the views to react to
// controller outcomes.
package events

import (
	"sync"
	"time"
)

// Event types published by the controllers and views.
const (
	QueueSnapshot    = "queue.snapshot"
	QueueAnomaly     = "queue.anomaly"
	SessionAction    = "session.action"
	BookingCreated   = "booking.created"
	CheckInCompleted = "checkin.completed"
)

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   any
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event Event)

// EventBus provides in-process pub/sub for events. A nil *EventBus drops
// everything published to it.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(eventType string, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[eventType]...)
	b.mu.RUnlock()

	event := Event{Type: eventType, Payload: payload, CreatedAt: time.Now()}
	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		handler(event)
	}
}
