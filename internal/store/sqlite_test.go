package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "syd.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	if err := s.CreateProject(ctx, Project{ID: "p1", Name: "demo", Path: "/tmp/demo"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateAgent(ctx, Agent{ID: "a1", ProjectID: "p1", Name: "Alpha", Model: "small"}); err != nil {
		t.Fatal(err)
	}
	agentID := "a1"
	if err := s.CreateSession(ctx, Session{
		ID: "s1", AgentID: &agentID, ProjectID: "p1",
		TmuxSession: "syd-alpha", Status: SessionRunning, Activity: ActivityIdle,
	}); err != nil {
		t.Fatal(err)
	}

	p, err := s.GetProject(ctx, "p1")
	if err != nil || p.Name != "demo" || p.Path != "/tmp/demo" {
		t.Fatalf("project = %+v, err = %v", p, err)
	}
	a, err := s.GetAgentByName(ctx, "p1", "Alpha")
	if err != nil || a.ID != "a1" {
		t.Fatalf("agent = %+v, err = %v", a, err)
	}
	sess, err := s.GetSession(ctx, "s1")
	if err != nil || sess.AgentID == nil || *sess.AgentID != "a1" || sess.Status != SessionRunning {
		t.Fatalf("session = %+v, err = %v", sess, err)
	}

	active, err := s.ListActiveSessions(ctx)
	if err != nil || len(active) != 1 {
		t.Fatalf("active = %+v, err = %v", active, err)
	}

	sess.Status = SessionEnded
	if err := s.UpdateSession(ctx, sess); err != nil {
		t.Fatal(err)
	}
	active, _ = s.ListActiveSessions(ctx)
	if len(active) != 0 {
		t.Fatalf("active after end = %+v", active)
	}
}

func TestSQLiteNotFound(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	if _, err := s.GetProject(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProject: %v", err)
	}
	if _, err := s.GetAgentByName(ctx, "p", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAgentByName: %v", err)
	}
	if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession: %v", err)
	}
	g, err := s.GetGuestByName(ctx, "p", "missing")
	if err != nil || g != nil {
		t.Errorf("GetGuestByName clean miss: g = %v, err = %v", g, err)
	}
}

func TestSQLiteGuests(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	if err := s.CreateGuest(ctx, Guest{ID: "abc-1", ProjectID: "p1", Name: "Scout", TmuxSession: "g1"}); err != nil {
		t.Fatal(err)
	}

	g, err := s.GetGuestByName(ctx, "p1", "scout")
	if err != nil || g == nil || g.ID != "abc-1" {
		t.Fatalf("case-insensitive lookup: g = %v, err = %v", g, err)
	}

	got, err := s.GetGuestsByIDPrefix(ctx, "abc")
	if err != nil || len(got) != 1 {
		t.Fatalf("prefix = %+v, err = %v", got, err)
	}

	if err := s.DeleteGuest(ctx, "abc-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteGuest(ctx, "abc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestSQLiteThreadsWithMembers(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	agentID := "a1"
	th := Thread{
		ID: "t1", ProjectID: "p1", Kind: ThreadDirect,
		Members: []ThreadMember{
			{ThreadID: "t1", Type: MemberAgent, AgentID: &agentID},
			{ThreadID: "t1", Type: MemberUser},
		},
	}
	if err := s.CreateThread(ctx, th); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetThread(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Members) != 2 {
		t.Fatalf("members = %+v", got.Members)
	}

	byProject, err := s.ListThreadsByProject(ctx, "p1")
	if err != nil || len(byProject) != 1 || len(byProject[0].Members) != 2 {
		t.Fatalf("byProject = %+v, err = %v", byProject, err)
	}

	if err := s.CreateThreadMessage(ctx, ThreadMessage{ID: "m1", ThreadID: "t1", AuthorType: MemberAgent, AuthorAgentID: &agentID, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkThreadMessageRead(ctx, "m1"); err != nil {
		t.Fatal(err)
	}
	msgs, err := s.ListThreadMessages(ctx, "t1")
	if err != nil || len(msgs) != 1 || msgs[0].ReadAt == nil {
		t.Fatalf("msgs = %+v, err = %v", msgs, err)
	}
}

func TestSQLitePoolConfig(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	cfg, err := s.GetMessagePoolConfig(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if cfg != DefaultPoolConfig() {
		t.Fatalf("cfg = %+v, want defaults", cfg)
	}

	want := DefaultPoolConfig()
	want.Enabled = false
	want.MaxMessages = 7
	if err := s.SetMessagePoolConfig(ctx, "p1", want); err != nil {
		t.Fatal(err)
	}
	cfg, err = s.GetMessagePoolConfig(ctx, "p1")
	if err != nil || cfg.Enabled || cfg.MaxMessages != 7 {
		t.Fatalf("cfg = %+v, err = %v", cfg, err)
	}
}
