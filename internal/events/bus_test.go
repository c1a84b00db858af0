package events

import (
	"testing"
	"time"
)

func TestSubscribeFiltersByType(t *testing.T) {
	bus := NewEventBus()
	var activity, all int

	unsubActivity := bus.Subscribe(EventSessionActivity, func(BusEvent) { activity++ })
	defer unsubActivity()
	unsubAll := bus.SubscribeAll(func(BusEvent) { all++ })
	defer unsubAll()

	bus.Publish(NewSessionActivity("s1", "busy", time.Now(), nil))
	bus.Publish(NewSessionEnded("s1", "a1"))

	if activity != 1 {
		t.Errorf("typed handler calls = %d", activity)
	}
	if all != 2 {
		t.Errorf("catch-all handler calls = %d", all)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewEventBus()
	var n int
	unsub := bus.Subscribe(EventSessionEnded, func(BusEvent) { n++ })

	bus.Publish(NewSessionEnded("s1", "a1"))
	unsub()
	unsub() // second call is harmless
	bus.Publish(NewSessionEnded("s2", "a1"))

	if n != 1 {
		t.Fatalf("deliveries = %d", n)
	}
}

func TestPublishNilIsNoop(t *testing.T) {
	bus := NewEventBus()
	bus.SubscribeAll(func(BusEvent) { t.Fatal("handler called for nil event") })
	bus.Publish(nil)
}

func TestEmitterDeliversAsync(t *testing.T) {
	bus := NewEventBus()
	got := make(chan BusEvent, 1)
	bus.SubscribeAll(func(ev BusEvent) { got <- ev })

	e := NewEmitter(bus, 8)
	e.Emit(NewGuestUnregistered("g1", "p1", "scout", "tmux-1", ReasonTmuxSessionDied))

	select {
	case ev := <-got:
		if ev.EventType() != EventGuestUnregistered {
			t.Fatalf("type = %s", ev.EventType())
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
	if e.Dropped() != 0 {
		t.Fatalf("dropped = %d", e.Dropped())
	}
}
