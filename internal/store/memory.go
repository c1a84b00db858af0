package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory Store. It backs unit tests and ephemeral daemon
// runs where no workspace database is configured.
type Memory struct {
	mu sync.RWMutex

	projects map[string]Project
	agents   map[string]Agent
	sessions map[string]Session
	guests   map[string]Guest
	threads  map[string]Thread
	messages map[string]ThreadMessage
	poolCfgs map[string]PoolConfig
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		projects: make(map[string]Project),
		agents:   make(map[string]Agent),
		sessions: make(map[string]Session),
		guests:   make(map[string]Guest),
		threads:  make(map[string]Thread),
		messages: make(map[string]ThreadMessage),
		poolCfgs: make(map[string]PoolConfig),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) GetProject(_ context.Context, id string) (Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (m *Memory) ListProjects(_ context.Context) ([]Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CreateProject(_ context.Context, p Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt
	m.projects[p.ID] = p
	return nil
}

func (m *Memory) GetAgent(_ context.Context, id string) (Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return Agent{}, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return a, nil
}

func (m *Memory) GetAgentByName(_ context.Context, projectID, name string) (Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.agents {
		if a.ProjectID == projectID && a.Name == name {
			return a, nil
		}
	}
	return Agent{}, fmt.Errorf("agent %q: %w", name, ErrNotFound)
}

func (m *Memory) ListAgents(_ context.Context, projectID string, page Page) ([]Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Agent
	for _, a := range m.agents {
		if a.ProjectID == projectID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return paginate(out, page), nil
}

func (m *Memory) CreateAgent(_ context.Context, a Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = a.CreatedAt
	m.agents[a.ID] = a
	return nil
}

func (m *Memory) ListActiveSessions(_ context.Context) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Session
	for _, s := range m.sessions {
		if s.Status == SessionRunning {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (m *Memory) CreateSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	s.UpdatedAt = s.CreatedAt
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) UpdateSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return fmt.Errorf("session %s: %w", s.ID, ErrNotFound)
	}
	s.UpdatedAt = time.Now().UTC()
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *Memory) ListGuests(_ context.Context, projectID string) ([]Guest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Guest
	for _, g := range m.guests {
		if g.ProjectID == projectID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) ListAllGuests(_ context.Context) ([]Guest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Guest, 0, len(m.guests))
	for _, g := range m.guests {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetGuest(_ context.Context, id string) (Guest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.guests[id]
	if !ok {
		return Guest{}, fmt.Errorf("guest %s: %w", id, ErrNotFound)
	}
	return g, nil
}

func (m *Memory) GetGuestByName(_ context.Context, projectID, name string) (*Guest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.guests {
		if g.ProjectID == projectID && strings.EqualFold(g.Name, name) {
			out := g
			return &out, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetGuestsByIDPrefix(_ context.Context, prefix string) ([]Guest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Guest
	for _, g := range m.guests {
		if strings.HasPrefix(g.ID, prefix) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateGuest(_ context.Context, g Guest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	g.UpdatedAt = g.CreatedAt
	m.guests[g.ID] = g
	return nil
}

func (m *Memory) DeleteGuest(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.guests[id]; !ok {
		return fmt.Errorf("guest %s: %w", id, ErrNotFound)
	}
	delete(m.guests, id)
	return nil
}

func (m *Memory) GetThread(_ context.Context, id string) (Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[id]
	if !ok {
		return Thread{}, fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (m *Memory) CreateThread(_ context.Context, t Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.UpdatedAt = t.CreatedAt
	m.threads[t.ID] = t
	return nil
}

func (m *Memory) ListThreadsByProject(_ context.Context, projectID string) ([]Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Thread
	for _, t := range m.threads {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateThreadMessage(_ context.Context, msg ThreadMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[msg.ThreadID]; !ok {
		return fmt.Errorf("thread %s: %w", msg.ThreadID, ErrNotFound)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	m.messages[msg.ID] = msg
	return nil
}

func (m *Memory) ListThreadMessages(_ context.Context, threadID string) ([]ThreadMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ThreadMessage
	for _, msg := range m.messages {
		if msg.ThreadID == threadID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) MarkThreadMessageRead(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	now := time.Now().UTC()
	msg.ReadAt = &now
	m.messages[messageID] = msg
	return nil
}

func (m *Memory) GetMessagePoolConfig(_ context.Context, projectID string) (PoolConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cfg, ok := m.poolCfgs[projectID]; ok {
		return cfg, nil
	}
	return DefaultPoolConfig(), nil
}

func (m *Memory) SetMessagePoolConfig(_ context.Context, projectID string, cfg PoolConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.poolCfgs[projectID] = cfg
	return nil
}

func paginate[T any](items []T, page Page) []T {
	if page.Offset > 0 {
		if page.Offset >= len(items) {
			return nil
		}
		items = items[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(items) {
		items = items[:page.Limit]
	}
	return items
}
