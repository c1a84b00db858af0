package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/switchyard-ai/switchyard/internal/events"
	"github.com/switchyard-ai/switchyard/internal/store"
)

// countingProbe tracks probes per terminal name.
type countingProbe struct {
	mu     sync.Mutex
	alive  map[string]bool
	probes map[string]int
}

func newCountingProbe() *countingProbe {
	return &countingProbe{alive: make(map[string]bool), probes: make(map[string]int)}
}

func (p *countingProbe) HasSession(_ context.Context, name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes[name]++
	return p.alive[name], nil
}

func (p *countingProbe) CapturePane(_ context.Context, _ string, _ int) (string, error) {
	return "", nil
}

func (p *countingProbe) setAlive(name string, alive bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive[name] = alive
}

func (p *countingProbe) probeCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes[name]
}

// countingStore counts guest deletions on top of the in-memory store.
type countingStore struct {
	store.Store
	mu      sync.Mutex
	deletes int
}

func (s *countingStore) DeleteGuest(ctx context.Context, id string) error {
	s.mu.Lock()
	s.deletes++
	s.mu.Unlock()
	return s.Store.DeleteGuest(ctx, id)
}

func (s *countingStore) deleteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}

// ctxStrictStore rejects writes on a cancelled context, the way the sqlite
// store does. The in-memory store ignores context, which would hide a bug
// where cleanup runs on an already-cancelled per-entity context.
type ctxStrictStore struct {
	store.Store
}

func (s *ctxStrictStore) DeleteGuest(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.DeleteGuest(ctx, id)
}

func (s *ctxStrictStore) UpdateSession(ctx context.Context, sess store.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.UpdateSession(ctx, sess)
}

func testConfig() Config {
	return Config{
		ProbeInterval: 20 * time.Millisecond,
		IdleTimeout:   60 * time.Millisecond,
		// Polling off: tests push activity through Signal directly.
		PollInterval: 0,
		CaptureLines: 50,
	}
}

func collectEvents(t *testing.T, bus *events.EventBus, eventType string) <-chan events.BusEvent {
	t.Helper()
	ch := make(chan events.BusEvent, 16)
	unsub := bus.Subscribe(eventType, func(ev events.BusEvent) {
		select {
		case ch <- ev:
		default:
		}
	})
	t.Cleanup(unsub)
	return ch
}

func waitEvent(t *testing.T, ch <-chan events.BusEvent, within time.Duration) events.BusEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(within):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestStartGuestMonitoringIsIdempotent(t *testing.T) {
	st := store.NewMemory()
	probe := newCountingProbe()
	probe.setAlive("guest-a", true)
	m := New(st, probe, events.NewEventBus(), testConfig())
	defer m.Stop()

	g := store.Guest{ID: "g1", ProjectID: "p1", Name: "scout", TmuxSession: "guest-a"}
	m.StartGuestMonitoring(g)
	m.StartGuestMonitoring(g)

	// One timer probes roughly every interval. A leaked second timer would
	// double the count over the window.
	time.Sleep(220 * time.Millisecond)
	count := probe.probeCount("guest-a")
	if count == 0 {
		t.Fatal("no probes fired")
	}
	if count > 15 {
		t.Fatalf("probe count %d suggests more than one active timer", count)
	}
}

func TestDeadGuestCleanup(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	g := store.Guest{ID: "g1", ProjectID: "p1", Name: "scout", TmuxSession: "guest-a"}
	if err := mem.CreateGuest(ctx, g); err != nil {
		t.Fatal(err)
	}
	st := &countingStore{Store: mem}
	probe := newCountingProbe()
	probe.setAlive("guest-a", true)
	bus := events.NewEventBus()
	unregistered := collectEvents(t, bus, events.EventGuestUnregistered)

	m := New(st, probe, bus, testConfig())
	defer m.Stop()
	m.StartGuestMonitoring(g)

	time.Sleep(50 * time.Millisecond)
	probe.setAlive("guest-a", false)

	ev := waitEvent(t, unregistered, time.Second)
	got, ok := ev.(events.GuestUnregisteredEvent)
	if !ok {
		t.Fatalf("event type %T", ev)
	}
	if got.GuestID != "g1" || got.Reason != events.ReasonTmuxSessionDied || got.TmuxSessionID != "guest-a" {
		t.Fatalf("event = %+v", got)
	}

	if st.deleteCount() != 1 {
		t.Fatalf("DeleteGuest called %d times, want 1", st.deleteCount())
	}
	if _, err := mem.GetGuest(ctx, "g1"); err == nil {
		t.Fatal("guest record still present after cleanup")
	}

	// Timer must be cancelled: no further probes after death.
	after := probe.probeCount("guest-a")
	time.Sleep(100 * time.Millisecond)
	if probe.probeCount("guest-a") != after {
		t.Fatal("probes continued after guest death")
	}

	select {
	case <-unregistered:
		t.Fatal("guest.unregistered published more than once")
	default:
	}
}

func TestDeadGuestCleanupSurvivesOwnTimerCancel(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	g := store.Guest{ID: "g1", ProjectID: "p1", Name: "scout", TmuxSession: "guest-a"}
	if err := mem.CreateGuest(ctx, g); err != nil {
		t.Fatal(err)
	}
	probe := newCountingProbe()
	probe.setAlive("guest-a", true)
	bus := events.NewEventBus()
	unregistered := collectEvents(t, bus, events.EventGuestUnregistered)

	// Stopping the probe cancels the per-guest context before cleanup runs;
	// the delete must still land on a store that rejects cancelled contexts.
	m := New(&ctxStrictStore{Store: mem}, probe, bus, testConfig())
	defer m.Stop()
	m.StartGuestMonitoring(g)

	time.Sleep(50 * time.Millisecond)
	probe.setAlive("guest-a", false)

	waitEvent(t, unregistered, time.Second)
	if _, err := mem.GetGuest(ctx, "g1"); err == nil {
		t.Fatal("dead guest survived cleanup on a context-honoring store")
	}
}

func TestStartSweepsDeadGuestsBeforeMonitoring(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	dead := store.Guest{ID: "g-dead", ProjectID: "p1", Name: "dead", TmuxSession: "t-dead"}
	alive := store.Guest{ID: "g-alive", ProjectID: "p1", Name: "alive", TmuxSession: "t-alive"}
	for _, g := range []store.Guest{dead, alive} {
		if err := mem.CreateGuest(ctx, g); err != nil {
			t.Fatal(err)
		}
	}
	probe := newCountingProbe()
	probe.setAlive("t-alive", true)
	bus := events.NewEventBus()
	unregistered := collectEvents(t, bus, events.EventGuestUnregistered)

	m := New(mem, probe, bus, testConfig())
	defer m.Stop()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}

	ev := waitEvent(t, unregistered, time.Second)
	if ev.(events.GuestUnregisteredEvent).GuestID != "g-dead" {
		t.Fatalf("wrong guest cleaned: %+v", ev)
	}
	if _, err := mem.GetGuest(ctx, "g-dead"); err == nil {
		t.Fatal("dead guest survived the startup sweep")
	}

	// The dead guest never gets a repeating timer: exactly one startup probe.
	time.Sleep(80 * time.Millisecond)
	if got := probe.probeCount("t-dead"); got != 1 {
		t.Fatalf("dead guest probed %d times, want 1", got)
	}
	if probe.probeCount("t-alive") < 2 {
		t.Fatal("alive guest not being monitored")
	}
}

func TestStopGuestMonitoringIsRedundantSafe(t *testing.T) {
	m := New(store.NewMemory(), newCountingProbe(), events.NewEventBus(), testConfig())
	defer m.Stop()
	m.StopGuestMonitoring("never-started")
	m.StopGuestMonitoring("never-started")
}

func newRunningSession(t *testing.T, mem *store.Memory, id string) store.Session {
	t.Helper()
	agentID := "agent-1"
	s := store.Session{
		ID: id, AgentID: &agentID, ProjectID: "p1", TmuxSession: "syd-x",
		Status: store.SessionRunning, Activity: store.ActivityIdle,
	}
	if err := mem.CreateSession(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSignalTransitionsToBusyOnce(t *testing.T) {
	mem := store.NewMemory()
	s := newRunningSession(t, mem, "11111111-aaaa-bbbb-cccc-dddddddddddd")
	bus := events.NewEventBus()
	activityEvents := collectEvents(t, bus, events.EventSessionActivity)

	m := New(mem, newCountingProbe(), bus, testConfig())
	defer m.Stop()

	m.Signal(s.ID)
	ev := waitEvent(t, activityEvents, time.Second).(events.SessionActivityEvent)
	if ev.State != string(store.ActivityBusy) || ev.BusySince == nil {
		t.Fatalf("busy event = %+v", ev)
	}

	got, _ := mem.GetSession(context.Background(), s.ID)
	if got.Activity != store.ActivityBusy || got.BusySince == nil {
		t.Fatalf("stored session = %+v", got)
	}
	busySince := *got.BusySince

	// Repeated signals while busy: no rebroadcast, busy-since untouched.
	m.Signal(s.ID)
	m.Signal(s.ID)
	select {
	case ev := <-activityEvents:
		if ev.(events.SessionActivityEvent).State == string(store.ActivityBusy) {
			t.Fatal("busy broadcast repeated")
		}
	case <-time.After(30 * time.Millisecond):
	}
	got, _ = mem.GetSession(context.Background(), s.ID)
	if got.BusySince == nil || !got.BusySince.Equal(busySince) {
		t.Fatal("busySince was reset by a repeated signal")
	}
}

func TestIdleTimerFlipsSessionBack(t *testing.T) {
	mem := store.NewMemory()
	s := newRunningSession(t, mem, "22222222-aaaa-bbbb-cccc-dddddddddddd")
	bus := events.NewEventBus()
	activityEvents := collectEvents(t, bus, events.EventSessionActivity)

	m := New(mem, newCountingProbe(), bus, testConfig())
	defer m.Stop()

	m.Signal(s.ID)
	waitEvent(t, activityEvents, time.Second) // busy

	ev := waitEvent(t, activityEvents, time.Second).(events.SessionActivityEvent)
	if ev.State != string(store.ActivityIdle) {
		t.Fatalf("state = %s, want idle", ev.State)
	}
	got, _ := mem.GetSession(context.Background(), s.ID)
	if got.Activity != store.ActivityIdle || got.BusySince != nil {
		t.Fatalf("stored session = %+v", got)
	}
}

func TestRepeatedSignalsPushIdleDeadlineOut(t *testing.T) {
	mem := store.NewMemory()
	s := newRunningSession(t, mem, "33333333-aaaa-bbbb-cccc-dddddddddddd")
	bus := events.NewEventBus()
	activityEvents := collectEvents(t, bus, events.EventSessionActivity)

	m := New(mem, newCountingProbe(), bus, testConfig())
	defer m.Stop()

	m.Signal(s.ID)
	waitEvent(t, activityEvents, time.Second) // busy

	// Keep signalling faster than the idle timeout; the session must stay busy.
	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		m.Signal(s.ID)
	}
	got, _ := mem.GetSession(context.Background(), s.ID)
	if got.Activity != store.ActivityBusy {
		t.Fatal("session went idle despite continuous signals")
	}
}

func TestClearSessionCancelsIdleTimer(t *testing.T) {
	mem := store.NewMemory()
	s := newRunningSession(t, mem, "44444444-aaaa-bbbb-cccc-dddddddddddd")
	bus := events.NewEventBus()
	activityEvents := collectEvents(t, bus, events.EventSessionActivity)

	m := New(mem, newCountingProbe(), bus, testConfig())
	defer m.Stop()

	m.Signal(s.ID)
	waitEvent(t, activityEvents, time.Second) // busy
	m.ClearSession(s.ID)

	select {
	case ev := <-activityEvents:
		t.Fatalf("unexpected event after ClearSession: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSignalIgnoresNonRunningSessions(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	s := store.Session{
		ID: "55555555-aaaa-bbbb-cccc-dddddddddddd", ProjectID: "p1",
		TmuxSession: "syd-x", Status: store.SessionEnded, Activity: store.ActivityIdle,
	}
	if err := mem.CreateSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	bus := events.NewEventBus()
	activityEvents := collectEvents(t, bus, events.EventSessionActivity)

	m := New(mem, newCountingProbe(), bus, testConfig())
	defer m.Stop()
	m.Signal(s.ID)
	m.Signal("not-a-session")

	select {
	case ev := <-activityEvents:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	got, _ := mem.GetSession(ctx, s.ID)
	if got.Activity != store.ActivityIdle {
		t.Fatal("ended session was mutated")
	}
}

func TestSessionDeathEndsAndAnnounces(t *testing.T) {
	mem := store.NewMemory()
	s := newRunningSession(t, mem, "66666666-aaaa-bbbb-cccc-dddddddddddd")
	probe := newCountingProbe()
	probe.setAlive("syd-x", true)
	bus := events.NewEventBus()
	ended := collectEvents(t, bus, events.EventSessionEnded)

	m := New(mem, probe, bus, testConfig())
	defer m.Stop()
	m.WatchSession(s)

	time.Sleep(50 * time.Millisecond)
	probe.setAlive("syd-x", false)

	ev := waitEvent(t, ended, time.Second).(events.SessionEndedEvent)
	if ev.EventSession() != s.ID || ev.AgentID != "agent-1" {
		t.Fatalf("event = %+v", ev)
	}
	got, _ := mem.GetSession(context.Background(), s.ID)
	if got.Status != store.SessionEnded {
		t.Fatalf("status = %s, want ended", got.Status)
	}
	active, _ := mem.ListActiveSessions(context.Background())
	if len(active) != 0 {
		t.Fatal("dead session still in the active set")
	}
}

func TestSessionDeathMarksEndedOnContextHonoringStore(t *testing.T) {
	mem := store.NewMemory()
	s := newRunningSession(t, mem, "77777777-aaaa-bbbb-cccc-dddddddddddd")
	probe := newCountingProbe()
	probe.setAlive("syd-x", true)
	bus := events.NewEventBus()
	ended := collectEvents(t, bus, events.EventSessionEnded)

	// Unwatching cancels the loop's context before endSession writes; the
	// status update must not be lost on a store that checks ctx.Err.
	m := New(&ctxStrictStore{Store: mem}, probe, bus, testConfig())
	defer m.Stop()
	m.WatchSession(s)

	time.Sleep(50 * time.Millisecond)
	probe.setAlive("syd-x", false)

	waitEvent(t, ended, time.Second)
	got, _ := mem.GetSession(context.Background(), s.ID)
	if got.Status != store.SessionEnded {
		t.Fatalf("status = %s, want ended", got.Status)
	}
	active, _ := mem.ListActiveSessions(context.Background())
	if len(active) != 0 {
		t.Fatal("dead session still in the active set")
	}
}
