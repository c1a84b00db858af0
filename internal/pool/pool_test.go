package pool

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/switchyard-ai/switchyard/internal/store"
)

// sink records injections and can fail the first N of them.
type sink struct {
	mu       sync.Mutex
	texts    []string
	failNext int
}

func (s *sink) inject(_ context.Context, _ string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return errors.New("no running session")
	}
	s.texts = append(s.texts, text)
	return nil
}

func (s *sink) injected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	copy(out, s.texts)
	return out
}

func staticConfig(cfg store.PoolConfig) ConfigSource {
	return func(context.Context, string) (store.PoolConfig, error) { return cfg, nil }
}

func waitForInjections(t *testing.T, s *sink, n int, within time.Duration) []string {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if got := s.injected(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d injections, got %v", n, s.injected())
	return nil
}

func TestDisabledPoolInjectsImmediately(t *testing.T) {
	s := &sink{}
	p := New(s.inject, staticConfig(store.PoolConfig{Enabled: false}))
	defer p.Stop()

	res, err := p.Enqueue(context.Background(), "a1", Entry{Text: "hi", ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if res.Status != "flushed" || res.PoolSize != 0 {
		t.Fatalf("result = %+v", res)
	}
	if got := s.injected(); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("injected = %v", got)
	}
}

func TestDelayedBatchMergesWithSeparator(t *testing.T) {
	s := &sink{}
	cfg := store.PoolConfig{
		Enabled:     true,
		Delay:       40 * time.Millisecond,
		MaxWait:     time.Second,
		MaxMessages: 20,
		Separator:   "\n---\n",
	}
	p := New(s.inject, staticConfig(cfg))
	defer p.Stop()

	ctx := context.Background()
	if _, err := p.Enqueue(ctx, "a1", Entry{Text: "first", ProjectID: "p1"}); err != nil {
		t.Fatal(err)
	}
	res, err := p.Enqueue(ctx, "a1", Entry{Text: "second", ProjectID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "queued" || res.PoolSize != 2 {
		t.Fatalf("result = %+v", res)
	}

	got := waitForInjections(t, s, 1, time.Second)
	if got[0] != "first\n---\nsecond" {
		t.Fatalf("merged text = %q", got[0])
	}
	if p.PendingFor("a1") != 0 {
		t.Fatalf("pending = %d after flush", p.PendingFor("a1"))
	}
}

func TestMaxMessagesFlushesEarly(t *testing.T) {
	s := &sink{}
	cfg := store.PoolConfig{
		Enabled:     true,
		Delay:       time.Hour, // never fires on its own
		MaxWait:     time.Hour,
		MaxMessages: 2,
		Separator:   "\n",
	}
	p := New(s.inject, staticConfig(cfg))
	defer p.Stop()

	ctx := context.Background()
	p.Enqueue(ctx, "a1", Entry{Text: "one", ProjectID: "p1"})
	p.Enqueue(ctx, "a1", Entry{Text: "two", ProjectID: "p1"})

	got := waitForInjections(t, s, 1, time.Second)
	if got[0] != "one\ntwo" {
		t.Fatalf("merged text = %q", got[0])
	}
}

func TestInjectionFailureKeepsEntriesAndRetries(t *testing.T) {
	s := &sink{failNext: 1}
	cfg := store.PoolConfig{
		Enabled:     true,
		Delay:       30 * time.Millisecond,
		MaxWait:     time.Hour,
		MaxMessages: 20,
		Separator:   "\n",
	}
	p := New(s.inject, staticConfig(cfg))
	defer p.Stop()

	if _, err := p.Enqueue(context.Background(), "a1", Entry{Text: "retry me", ProjectID: "p1"}); err != nil {
		t.Fatal(err)
	}

	// First flush fails; the retry must deliver the same text.
	got := waitForInjections(t, s, 1, 2*time.Second)
	if got[0] != "retry me" {
		t.Fatalf("retried text = %q", got[0])
	}
}

func TestFlushForcesImmediateDelivery(t *testing.T) {
	s := &sink{}
	cfg := store.PoolConfig{
		Enabled:     true,
		Delay:       time.Hour,
		MaxWait:     time.Hour,
		MaxMessages: 20,
	}
	p := New(s.inject, staticConfig(cfg))
	defer p.Stop()

	p.Enqueue(context.Background(), "a1", Entry{Text: "now", ProjectID: "p1"})
	if p.PendingFor("a1") != 1 {
		t.Fatalf("pending = %d", p.PendingFor("a1"))
	}
	p.Flush("a1")

	got := waitForInjections(t, s, 1, time.Second)
	if got[0] != "now" {
		t.Fatalf("injected = %q", got[0])
	}
}

func TestQueuesAreIsolatedPerAgent(t *testing.T) {
	s := &sink{}
	cfg := store.PoolConfig{
		Enabled:     true,
		Delay:       30 * time.Millisecond,
		MaxWait:     time.Hour,
		MaxMessages: 20,
		Separator:   "\n",
	}
	p := New(s.inject, staticConfig(cfg))
	defer p.Stop()

	ctx := context.Background()
	p.Enqueue(ctx, "a1", Entry{Text: "for alpha", ProjectID: "p1"})
	p.Enqueue(ctx, "a2", Entry{Text: "for beta", ProjectID: "p1"})

	got := waitForInjections(t, s, 2, time.Second)
	joined := strings.Join(got, "|")
	if !strings.Contains(joined, "for alpha") || !strings.Contains(joined, "for beta") {
		t.Fatalf("injections = %v", got)
	}
	for _, text := range got {
		if strings.Contains(text, "alpha") && strings.Contains(text, "beta") {
			t.Fatalf("queues merged across agents: %q", text)
		}
	}
}

func TestStopDropsBufferedAndRejectsEnqueue(t *testing.T) {
	s := &sink{}
	cfg := store.PoolConfig{
		Enabled:     true,
		Delay:       20 * time.Millisecond,
		MaxWait:     time.Hour,
		MaxMessages: 20,
	}
	p := New(s.inject, staticConfig(cfg))

	p.Enqueue(context.Background(), "a1", Entry{Text: "doomed", ProjectID: "p1"})
	p.Stop()

	time.Sleep(60 * time.Millisecond)
	if got := s.injected(); len(got) != 0 {
		t.Fatalf("injected after Stop: %v", got)
	}
	if _, err := p.Enqueue(context.Background(), "a1", Entry{Text: "late", ProjectID: "p1"}); err == nil {
		t.Fatal("enqueue after Stop succeeded")
	}
}

func TestEnqueueRequiresAgentID(t *testing.T) {
	p := New((&sink{}).inject, staticConfig(store.DefaultPoolConfig()))
	defer p.Stop()
	if _, err := p.Enqueue(context.Background(), "", Entry{Text: "hi"}); err == nil {
		t.Fatal("expected error for empty agent id")
	}
}
