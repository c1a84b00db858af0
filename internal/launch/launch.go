// Package launch owns agent session creation. Launching is idempotent at the
// agent level: an agent has at most one running session, and launching an
// already-running agent returns the existing session.
package launch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/switchyard-ai/switchyard/internal/store"
	"github.com/switchyard-ai/switchyard/internal/tmux"
)

// Terminal is the slice of the tmux client the launcher needs.
type Terminal interface {
	NewSession(ctx context.Context, name, directory string) error
	HasSession(ctx context.Context, name string) (bool, error)
}

// SessionWatcher is satisfied by the monitor. Attached after construction so
// launcher and monitor can be built independently.
type SessionWatcher interface {
	WatchSession(s store.Session)
}

// Launcher creates running sessions for agents.
type Launcher struct {
	store    store.Store
	terminal Terminal
	watcher  SessionWatcher
	logger   *slog.Logger
}

// New constructs a launcher. Call Attach before serving requests.
func New(st store.Store, terminal Terminal) *Launcher {
	return &Launcher{
		store:    st,
		terminal: terminal,
		logger:   slog.Default().With("component", "launch"),
	}
}

// Attach wires the monitor in. Separate from New because the monitor also
// needs the store the launcher writes to.
func (l *Launcher) Attach(w SessionWatcher) {
	l.watcher = w
}

// LaunchSession returns a running session for the agent, creating the tmux
// session and the store record when none exists. Never yields two running
// sessions for one agent.
func (l *Launcher) LaunchSession(ctx context.Context, projectID, agentID string) (store.Session, error) {
	active, err := l.store.ListActiveSessions(ctx)
	if err != nil {
		return store.Session{}, fmt.Errorf("listing active sessions: %w", err)
	}
	for _, s := range active {
		if s.AgentID != nil && *s.AgentID == agentID {
			return s, nil
		}
	}

	agent, err := l.store.GetAgent(ctx, agentID)
	if err != nil {
		return store.Session{}, fmt.Errorf("loading agent: %w", err)
	}

	var dir string
	if p, err := l.store.GetProject(ctx, projectID); err == nil {
		dir = p.Path
	}

	id := uuid.NewString()
	name := sessionName(agent.Name, id)
	if err := l.terminal.NewSession(ctx, name, dir); err != nil {
		return store.Session{}, fmt.Errorf("launching terminal: %w", err)
	}

	now := time.Now().UTC()
	s := store.Session{
		ID:             id,
		AgentID:        &agent.ID,
		ProjectID:      projectID,
		TmuxSession:    name,
		Status:         store.SessionRunning,
		Activity:       store.ActivityIdle,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := l.store.CreateSession(ctx, s); err != nil {
		return store.Session{}, fmt.Errorf("recording session: %w", err)
	}
	if l.watcher != nil {
		l.watcher.WatchSession(s)
	}
	l.logger.Info("session launched", "agent", agent.Name, "session", s.ID, "tmux_session", name)
	return s, nil
}

// sessionName builds a tmux-safe session name from the agent name and the
// session id's first segment.
func sessionName(agentName, sessionID string) string {
	slug := strings.ToLower(agentName)
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, slug)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "agent"
	}
	name := fmt.Sprintf("syd-%s-%s", slug, sessionID[:8])
	if err := tmux.ValidateSessionName(name); err != nil {
		name = fmt.Sprintf("syd-agent-%s", sessionID[:8])
	}
	return name
}
