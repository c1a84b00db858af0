// Package pool buffers messages per recipient agent and flushes them into
// the recipient's terminal after a configurable delay. Batching keeps a
// busy agent from being interrupted by every single message; the delay lets
// several messages from one burst merge into a single injection.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/switchyard-ai/switchyard/internal/store"
)

// Injector delivers merged text into the running session of an agent. It
// fails when the agent has no running session; the pool retries later.
type Injector func(ctx context.Context, agentID, text string) error

// ConfigSource returns the pool tuning for a project.
type ConfigSource func(ctx context.Context, projectID string) (store.PoolConfig, error)

// Entry is one buffered message addressed to an agent.
type Entry struct {
	Text          string
	Source        string
	SenderAgentID string
	ProjectID     string
	AgentName     string
	SubmitKeys    bool
	EnqueuedAt    time.Time
}

// EnqueueResult reports the pool state after an enqueue.
type EnqueueResult struct {
	Status   string `json:"status"` // "queued" or "flushed"
	PoolSize int    `json:"poolSize"`
}

// Pool owns one buffered queue per recipient agent id. All queue mutations
// are serialized under the pool mutex; flushes run on timer goroutines.
type Pool struct {
	inject Injector
	cfgFor ConfigSource
	logger *slog.Logger

	mu     sync.Mutex
	queues map[string]*queue
	closed bool
}

type queue struct {
	entries []Entry
	cfg     store.PoolConfig
	firstAt time.Time
	timer   *time.Timer
}

// New creates a pool delivering through inject, tuned per project by cfgFor.
func New(inject Injector, cfgFor ConfigSource) *Pool {
	return &Pool{
		inject: inject,
		cfgFor: cfgFor,
		logger: slog.Default().With("component", "pool"),
		queues: make(map[string]*queue),
	}
}

// Enqueue buffers a message for agentID. When pooling is disabled for the
// project the message is injected immediately. Returns the queue size after
// the enqueue.
func (p *Pool) Enqueue(ctx context.Context, agentID string, e Entry) (EnqueueResult, error) {
	if agentID == "" {
		return EnqueueResult{}, fmt.Errorf("enqueue: agent id required")
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}

	cfg, err := p.cfgFor(ctx, e.ProjectID)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("pool config for project %s: %w", e.ProjectID, err)
	}

	if !cfg.Enabled {
		if err := p.inject(ctx, agentID, e.Text); err != nil {
			return EnqueueResult{}, err
		}
		return EnqueueResult{Status: "flushed", PoolSize: 0}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return EnqueueResult{}, fmt.Errorf("enqueue: pool is stopped")
	}

	q := p.queues[agentID]
	if q == nil {
		q = &queue{cfg: cfg, firstAt: e.EnqueuedAt}
		p.queues[agentID] = q
	}
	q.cfg = cfg
	q.entries = append(q.entries, e)
	size := len(q.entries)

	// Flush immediately when the batch is full or the oldest entry has
	// waited long enough; otherwise push the delay timer out.
	if (cfg.MaxMessages > 0 && size >= cfg.MaxMessages) ||
		(cfg.MaxWait > 0 && time.Since(q.firstAt) >= cfg.MaxWait) {
		p.scheduleLocked(agentID, q, 0)
	} else {
		p.scheduleLocked(agentID, q, cfg.Delay)
	}

	return EnqueueResult{Status: "queued", PoolSize: size}, nil
}

// PendingFor returns the number of buffered messages for an agent.
func (p *Pool) PendingFor(agentID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q := p.queues[agentID]; q != nil {
		return len(q.entries)
	}
	return 0
}

// Flush forces immediate delivery of an agent's queue. Used when an agent's
// session comes online.
func (p *Pool) Flush(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q := p.queues[agentID]; q != nil {
		p.scheduleLocked(agentID, q, 0)
	}
}

// Stop cancels all timers. Buffered messages are dropped.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, q := range p.queues {
		if q.timer != nil {
			q.timer.Stop()
		}
		delete(p.queues, id)
	}
}

// scheduleLocked (re)arms the queue's flush timer. Caller holds p.mu.
func (p *Pool) scheduleLocked(agentID string, q *queue, delay time.Duration) {
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(delay, func() { p.flush(agentID) })
}

// flush merges and injects an agent's queue. On injection failure the
// entries stay buffered and the flush is retried after the configured
// delay: the recipient may simply not be online yet.
func (p *Pool) flush(agentID string) {
	p.mu.Lock()
	q := p.queues[agentID]
	if q == nil || len(q.entries) == 0 || p.closed {
		p.mu.Unlock()
		return
	}
	parts := make([]string, 0, len(q.entries))
	for _, e := range q.entries {
		parts = append(parts, e.Text)
	}
	sep := q.cfg.Separator
	if sep == "" {
		sep = "\n"
	}
	text := strings.Join(parts, sep)
	count := len(q.entries)
	retryDelay := q.cfg.Delay
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.inject(ctx, agentID, text); err != nil {
		p.logger.Debug("flush failed, will retry", "agent_id", agentID, "messages", count, "error", err)
		p.mu.Lock()
		if q := p.queues[agentID]; q != nil && !p.closed {
			if retryDelay <= 0 {
				retryDelay = 5 * time.Second
			}
			p.scheduleLocked(agentID, q, retryDelay)
		}
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	// Drop only the entries we just delivered; new ones may have arrived
	// while the injection was in flight.
	if q := p.queues[agentID]; q != nil {
		if len(q.entries) > count {
			q.entries = q.entries[count:]
			q.firstAt = q.entries[0].EnqueuedAt
		} else {
			delete(p.queues, agentID)
		}
	}
	p.mu.Unlock()
	p.logger.Debug("flushed pool", "agent_id", agentID, "messages", count)
}
