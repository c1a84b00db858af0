package thread

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/switchyard-ai/switchyard/internal/events"
	"github.com/switchyard-ai/switchyard/internal/store"
)

func newService(t *testing.T) (*Service, *store.Memory, *events.EventBus) {
	t.Helper()
	mem := store.NewMemory()
	bus := events.NewEventBus()
	if err := mem.CreateProject(context.Background(), store.Project{ID: "proj-1", Name: "demo"}); err != nil {
		t.Fatal(err)
	}
	if err := mem.CreateAgent(context.Background(), store.Agent{ID: "agent-1", ProjectID: "proj-1", Name: "Alpha"}); err != nil {
		t.Fatal(err)
	}
	return NewService(mem, bus), mem, bus
}

func TestEnsureDirectThreadIsIdempotent(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	first, err := svc.EnsureDirectThread(ctx, "proj-1", "agent-1")
	if err != nil {
		t.Fatalf("EnsureDirectThread: %v", err)
	}
	if first.Kind != store.ThreadDirect {
		t.Fatalf("kind = %s", first.Kind)
	}
	if len(first.Members) != 2 {
		t.Fatalf("members = %+v", first.Members)
	}
	var hasAgent, hasUser bool
	for _, m := range first.Members {
		if m.ThreadID != first.ID {
			t.Errorf("member thread id = %q, want %q", m.ThreadID, first.ID)
		}
		switch m.Type {
		case store.MemberAgent:
			hasAgent = m.AgentID != nil && *m.AgentID == "agent-1"
		case store.MemberUser:
			hasUser = true
		}
	}
	if !hasAgent || !hasUser {
		t.Fatalf("members = %+v", first.Members)
	}

	second, err := svc.EnsureDirectThread(ctx, "proj-1", "agent-1")
	if err != nil {
		t.Fatalf("second EnsureDirectThread: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("second call created a new direct thread")
	}
}

func TestEnsureDirectThreadPerAgent(t *testing.T) {
	svc, mem, _ := newService(t)
	ctx := context.Background()
	if err := mem.CreateAgent(ctx, store.Agent{ID: "agent-2", ProjectID: "proj-1", Name: "Beta"}); err != nil {
		t.Fatal(err)
	}

	a, err := svc.EnsureDirectThread(ctx, "proj-1", "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.EnsureDirectThread(ctx, "proj-1", "agent-2")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Fatal("agents share a direct thread")
	}
}

func TestCreateMessageRequiresThread(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.CreateMessage(context.Background(), "missing", store.MemberUser, nil, "hi")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestCreateAndListMessages(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	th, err := svc.EnsureDirectThread(ctx, "proj-1", "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	agentID := "agent-1"
	first, err := svc.CreateMessage(ctx, th.ID, store.MemberAgent, &agentID, "status update")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if first.ID == "" || first.ThreadID != th.ID || first.Content != "status update" {
		t.Fatalf("message = %+v", first)
	}
	if _, err := svc.CreateMessage(ctx, th.ID, store.MemberUser, nil, "ack"); err != nil {
		t.Fatal(err)
	}

	msgs, err := svc.ListMessages(ctx, th.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Content != "status update" || msgs[1].Content != "ack" {
		t.Fatalf("order = %q, %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestMarkReadStampsMessageAndAnnounces(t *testing.T) {
	svc, _, bus := newService(t)
	ctx := context.Background()

	reads := make(chan events.BusEvent, 4)
	unsub := bus.Subscribe(events.EventThreadMessageRead, func(ev events.BusEvent) {
		reads <- ev
	})
	defer unsub()

	th, err := svc.EnsureDirectThread(ctx, "proj-1", "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	agentID := "agent-1"
	msg, err := svc.CreateMessage(ctx, th.ID, store.MemberAgent, &agentID, "read me")
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.MarkRead(ctx, "sess-1", th.ID, msg.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	select {
	case ev := <-reads:
		read := ev.(events.ThreadMessageReadEvent)
		if read.ThreadID != th.ID || read.MessageID != msg.ID || read.Session != "sess-1" {
			t.Fatalf("event = %+v", read)
		}
	case <-time.After(time.Second):
		t.Fatal("no thread.message_read event")
	}

	msgs, err := svc.ListMessages(ctx, th.ID)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].ReadAt == nil {
		t.Fatal("ReadAt not stamped")
	}
}

func TestMarkReadUnknownMessage(t *testing.T) {
	svc, _, _ := newService(t)
	if err := svc.MarkRead(context.Background(), "sess-1", "t", "missing"); err == nil {
		t.Fatal("expected error for unknown message")
	}
}
