// Package events provides the in-process event bus used to broadcast
// lifecycle and activity events (guest unregistration, session busy/idle)
// to subscribers such as the HTTP event stream and the dashboard.
package events

import (
	"sync"
	"time"
)

// BusEvent is the minimal contract for anything published on an EventBus.
type BusEvent interface {
	EventType() string
	EventSession() string
	EventTime() time.Time
}

// BaseEvent carries the fields shared by all bus events. Embed it and the
// BusEvent methods come for free.
type BaseEvent struct {
	Type      string    `json:"type"`
	Session   string    `json:"session,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) EventSession() string { return e.Session }
func (e BaseEvent) EventTime() time.Time { return e.Timestamp }

// UnsubscribeFunc removes a subscription. Safe to call more than once.
type UnsubscribeFunc func()

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine; slow consumers should hand off to their own.
type Handler func(BusEvent)

// EventBus fans events out to type-filtered and catch-all subscribers.
type EventBus struct {
	mu     sync.RWMutex
	nextID int
	byType map[string]map[int]Handler
	all    map[int]Handler
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		byType: make(map[string]map[int]Handler),
		all:    make(map[int]Handler),
	}
}

// DefaultBus is the process-wide bus used when no explicit bus is wired.
var DefaultBus = NewEventBus()

// Subscribe registers a handler for a single event type.
func (b *EventBus) Subscribe(eventType string, h Handler) UnsubscribeFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.byType[eventType] == nil {
		b.byType[eventType] = make(map[int]Handler)
	}
	b.byType[eventType][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.byType[eventType], id)
	}
}

// SubscribeAll registers a handler for every event type.
func (b *EventBus) SubscribeAll(h Handler) UnsubscribeFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Publish delivers an event to all matching subscribers.
func (b *EventBus) Publish(ev BusEvent) {
	if ev == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.all)+len(b.byType[ev.EventType()]))
	for _, h := range b.byType[ev.EventType()] {
		handlers = append(handlers, h)
	}
	for _, h := range b.all {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
