package monitor

import (
	"context"
	"time"

	"github.com/switchyard-ai/switchyard/internal/activity"
	"github.com/switchyard-ai/switchyard/internal/events"
	"github.com/switchyard-ai/switchyard/internal/store"
)

// WatchSession starts the health and output loop for a running session.
// Re-watching an already watched session restarts its loop.
func (m *Monitor) WatchSession(s store.Session) {
	if s.Status != store.SessionRunning {
		return
	}
	m.mu.Lock()
	if prior, ok := m.sessionLoops[s.ID]; ok {
		prior()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.sessionLoops[s.ID] = cancel
	m.mu.Unlock()

	go m.sessionLoop(ctx, s)
}

// UnwatchSession stops a session's loop without changing its stored state.
func (m *Monitor) UnwatchSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.sessionLoops[sessionID]; ok {
		cancel()
		delete(m.sessionLoops, sessionID)
	}
}

// sessionLoop probes the session's tmux session at the probe interval and,
// when polling is enabled, captures the pane at the poll interval and feeds
// the diff through the activity sink.
func (m *Monitor) sessionLoop(ctx context.Context, s store.Session) {
	health := time.NewTicker(m.probeInterval)
	defer health.Stop()

	var poll <-chan time.Time
	if m.pollInterval > 0 {
		t := time.NewTicker(m.pollInterval)
		defer t.Stop()
		poll = t.C
	}

	sink := activity.NewSink(func(sessionID string) {
		m.Signal(sessionID)
	})
	var lastPane string

	for {
		select {
		case <-ctx.Done():
			return
		case <-health.C:
			alive, err := m.probe.HasSession(ctx, s.TmuxSession)
			if err != nil {
				m.logger.Warn("session probe failed", "session", s.ID, "error", err)
				continue
			}
			if alive {
				continue
			}
			// Unwatching cancels ctx, so the session is marked ended on the
			// monitor's root context instead.
			m.UnwatchSession(s.ID)
			m.endSession(m.ctx, s)
			return
		case <-poll:
			pane, err := m.probe.CapturePane(ctx, s.TmuxSession, m.captureLines)
			if err != nil {
				continue
			}
			chunk := activity.ExtractNewOutput(lastPane, pane)
			lastPane = pane
			if chunk != "" {
				sink.Observe(s.ID, chunk)
			}
		}
	}
}

// endSession removes a dead session from the active set and announces it.
// Like guest cleanup, failures are logged and swallowed.
func (m *Monitor) endSession(ctx context.Context, s store.Session) {
	m.ClearSession(s.ID)

	s.Status = store.SessionEnded
	s.Activity = store.ActivityIdle
	s.BusySince = nil
	if err := m.store.UpdateSession(ctx, s); err != nil {
		m.logger.Warn("failed to mark session ended", "session", s.ID, "error", err)
	}
	agentID := ""
	if s.AgentID != nil {
		agentID = *s.AgentID
	}
	m.emitter.Emit(events.NewSessionEnded(s.ID, agentID))
	m.logger.Info("session ended", "session", s.ID, "tmux_session", s.TmuxSession)
}

// Signal records terminal activity on a session. The first signal while idle
// flips the session to busy, stamps busy-since and broadcasts the change;
// repeated signals while busy only refresh last-activity-at and push the idle
// deadline out. Signals against non-running sessions are ignored.
func (m *Monitor) Signal(sessionID string) {
	ctx := m.ctx
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return
	}
	if s.Status != store.SessionRunning {
		return
	}

	now := time.Now().UTC()
	s.LastActivityAt = now
	if s.Activity != store.ActivityBusy {
		s.Activity = store.ActivityBusy
		s.BusySince = &now
		if err := m.store.UpdateSession(ctx, s); err != nil {
			m.logger.Warn("failed to persist busy transition", "session", s.ID, "error", err)
		}
		m.emitter.Emit(events.NewSessionActivity(s.ID, string(store.ActivityBusy), s.LastActivityAt, s.BusySince))
	} else {
		if err := m.store.UpdateSession(ctx, s); err != nil {
			m.logger.Warn("failed to persist activity stamp", "session", s.ID, "error", err)
		}
	}

	m.resetIdleTimer(sessionID)
}

// resetIdleTimer (re)arms the per-session idle timer. Stop-then-replace under
// the lock keeps exactly one pending timer per session.
func (m *Monitor) resetIdleTimer(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.idleTimers[sessionID]; ok {
		t.Stop()
	}
	m.idleTimers[sessionID] = time.AfterFunc(m.idleTimeout, func() {
		m.markIdle(sessionID)
	})
}

// ClearSession cancels a session's pending idle timer, if any. It never
// touches the stored activity state.
func (m *Monitor) ClearSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.idleTimers[sessionID]; ok {
		t.Stop()
		delete(m.idleTimers, sessionID)
	}
}

// markIdle flips a still-running session back to idle after the timeout.
func (m *Monitor) markIdle(sessionID string) {
	m.ClearSession(sessionID)

	ctx := m.ctx
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return
	}
	if s.Status != store.SessionRunning || s.Activity != store.ActivityBusy {
		return
	}
	s.Activity = store.ActivityIdle
	s.BusySince = nil
	if err := m.store.UpdateSession(ctx, s); err != nil {
		m.logger.Warn("failed to persist idle transition", "session", s.ID, "error", err)
	}
	m.emitter.Emit(events.NewSessionActivity(s.ID, string(store.ActivityIdle), s.LastActivityAt, nil))
}
