package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Emitter publishes events asynchronously so that hot paths (monitor ticks,
// router delivery) never block on slow subscribers. Events are dropped when
// the buffer is full.
type Emitter struct {
	bus *EventBus
	ch  chan BusEvent

	dropped atomic.Int64

	startOnce sync.Once
}

// NewEmitter creates an emitter for the given bus. A nil bus means DefaultBus.
func NewEmitter(bus *EventBus, buffer int) *Emitter {
	if bus == nil {
		bus = DefaultBus
	}
	if buffer < 1 {
		buffer = 256
	}
	return &Emitter{
		bus: bus,
		ch:  make(chan BusEvent, buffer),
	}
}

// Start launches the background publisher loop (idempotent).
func (e *Emitter) Start() {
	e.startOnce.Do(func() {
		go func() {
			for ev := range e.ch {
				e.bus.Publish(ev)
			}
		}()
	})
}

// Emit enqueues an event for async publish, dropping it if the buffer is full.
func (e *Emitter) Emit(ev BusEvent) {
	if ev == nil {
		return
	}
	e.Start()
	select {
	case e.ch <- ev:
	default:
		n := e.dropped.Add(1)
		// Log the first drop and then every 1000 to avoid spam.
		if n == 1 || n%1000 == 0 {
			slog.Default().Debug("event emitter dropped events (buffer full)",
				"dropped", n, "event_type", ev.EventType())
		}
	}
}

// Dropped returns the number of dropped events.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}
