package launch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/switchyard-ai/switchyard/internal/store"
)

type fakeTerminal struct {
	created []string
	err     error
}

func (f *fakeTerminal) NewSession(_ context.Context, name, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, name)
	return nil
}

func (f *fakeTerminal) HasSession(context.Context, string) (bool, error) {
	return false, nil
}

type fakeWatcher struct {
	watched []store.Session
}

func (f *fakeWatcher) WatchSession(s store.Session) { f.watched = append(f.watched, s) }

func seed(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	if err := mem.CreateProject(ctx, store.Project{ID: "proj-1", Name: "demo", Path: "/tmp/demo"}); err != nil {
		t.Fatal(err)
	}
	if err := mem.CreateAgent(ctx, store.Agent{ID: "agent-1", ProjectID: "proj-1", Name: "Alpha"}); err != nil {
		t.Fatal(err)
	}
	return mem
}

func TestLaunchSessionCreatesAndWatches(t *testing.T) {
	mem := seed(t)
	term := &fakeTerminal{}
	watcher := &fakeWatcher{}
	l := New(mem, term)
	l.Attach(watcher)

	s, err := l.LaunchSession(context.Background(), "proj-1", "agent-1")
	if err != nil {
		t.Fatalf("LaunchSession: %v", err)
	}
	if s.Status != store.SessionRunning || s.Activity != store.ActivityIdle {
		t.Fatalf("session = %+v", s)
	}
	if s.AgentID == nil || *s.AgentID != "agent-1" {
		t.Fatalf("agent id = %v", s.AgentID)
	}
	if len(term.created) != 1 || term.created[0] != s.TmuxSession {
		t.Fatalf("terminal sessions = %v, record = %q", term.created, s.TmuxSession)
	}
	if !strings.HasPrefix(s.TmuxSession, "syd-alpha-") {
		t.Fatalf("tmux session name = %q", s.TmuxSession)
	}
	if len(watcher.watched) != 1 || watcher.watched[0].ID != s.ID {
		t.Fatalf("watched = %+v", watcher.watched)
	}

	stored, err := mem.GetSession(context.Background(), s.ID)
	if err != nil || stored.TmuxSession != s.TmuxSession {
		t.Fatalf("stored = %+v, err = %v", stored, err)
	}
}

func TestLaunchSessionIsIdempotentPerAgent(t *testing.T) {
	mem := seed(t)
	term := &fakeTerminal{}
	l := New(mem, term)

	first, err := l.LaunchSession(context.Background(), "proj-1", "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.LaunchSession(context.Background(), "proj-1", "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatal("second launch created a new session")
	}
	if len(term.created) != 1 {
		t.Fatalf("terminal sessions = %v", term.created)
	}
}

func TestLaunchSessionUnknownAgent(t *testing.T) {
	mem := seed(t)
	l := New(mem, &fakeTerminal{})

	if _, err := l.LaunchSession(context.Background(), "proj-1", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestLaunchSessionTerminalFailureLeavesNoRecord(t *testing.T) {
	mem := seed(t)
	l := New(mem, &fakeTerminal{err: errors.New("tmux refused")})

	if _, err := l.LaunchSession(context.Background(), "proj-1", "agent-1"); err == nil {
		t.Fatal("expected error")
	}
	active, _ := mem.ListActiveSessions(context.Background())
	if len(active) != 0 {
		t.Fatalf("active = %+v after failed launch", active)
	}
}

func TestSessionNameSlug(t *testing.T) {
	id := "1a2b3c4d-0000-0000-0000-000000000000"
	cases := []struct {
		agent string
		want  string
	}{
		{"Alpha", "syd-alpha-1a2b3c4d"},
		{"Data Cruncher 2", "syd-data-cruncher-2-1a2b3c4d"},
		{"---", "syd-agent-1a2b3c4d"},
		{"名前", "syd-agent-1a2b3c4d"},
	}
	for _, tc := range cases {
		if got := sessionName(tc.agent, id); got != tc.want {
			t.Errorf("sessionName(%q) = %q, want %q", tc.agent, got, tc.want)
		}
	}
}
