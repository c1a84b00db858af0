// Package monitor owns liveness and activity tracking: one repeating health
// probe per monitored guest, one health+output loop per running session, and
// one idle timer per session that has recently produced output. Dead
// terminals are cleaned out of the store deterministically; busy/idle
// transitions are broadcast on the event bus.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/switchyard-ai/switchyard/internal/events"
	"github.com/switchyard-ai/switchyard/internal/store"
)

// Config tunes the monitor's timers.
type Config struct {
	// ProbeInterval is how often guest and session terminals are re-probed.
	ProbeInterval time.Duration
	// IdleTimeout is how long a busy session stays busy with no further
	// activity signals before flipping to idle.
	IdleTimeout time.Duration
	// PollInterval is how often session panes are captured for output
	// diffing. Zero disables polling (callers push chunks via Signal).
	PollInterval time.Duration
	// CaptureLines bounds each pane capture.
	CaptureLines int
}

// TerminalProbe is the slice of the tmux client the monitor needs.
type TerminalProbe interface {
	HasSession(ctx context.Context, name string) (bool, error)
	CapturePane(ctx context.Context, name string, lines int) (string, error)
}

// Monitor tracks guests and sessions. All timer-map mutations are serialized
// under mu; the maps hold cancellation handles so that stopping one entity
// never touches another's timer.
type Monitor struct {
	store   store.Store
	probe   TerminalProbe
	emitter *events.Emitter
	logger  *slog.Logger

	probeInterval time.Duration
	idleTimeout   time.Duration
	pollInterval  time.Duration
	captureLines  int

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	guestCancels map[string]context.CancelFunc
	sessionLoops map[string]context.CancelFunc
	idleTimers   map[string]*time.Timer
}

// New constructs a monitor. Call Start to begin monitoring; the monitor owns
// no goroutines before that.
func New(st store.Store, probe TerminalProbe, bus *events.EventBus, cfg Config) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		store:         st,
		probe:         probe,
		emitter:       events.NewEmitter(bus, 512),
		logger:        slog.Default().With("component", "monitor"),
		probeInterval: cfg.ProbeInterval,
		idleTimeout:   cfg.IdleTimeout,
		pollInterval:  cfg.PollInterval,
		captureLines:  cfg.CaptureLines,
		ctx:           ctx,
		cancel:        cancel,
		guestCancels:  make(map[string]context.CancelFunc),
		sessionLoops:  make(map[string]context.CancelFunc),
		idleTimers:    make(map[string]*time.Timer),
	}
}

// Start sweeps all known guests once, cleaning up the already-dead before
// any monitoring begins, then starts the repeating probes for the survivors
// and the loops for running sessions. A stale record is never monitored.
func (m *Monitor) Start(ctx context.Context) error {
	guests, err := m.store.ListAllGuests(ctx)
	if err != nil {
		return err
	}
	for _, g := range guests {
		alive, err := m.probe.HasSession(ctx, g.TmuxSession)
		if err != nil {
			m.logger.Warn("startup probe failed, assuming alive", "guest", g.Name, "error", err)
			alive = true
		}
		if !alive {
			m.cleanupGuest(ctx, g)
			continue
		}
		m.StartGuestMonitoring(g)
	}

	sessions, err := m.store.ListActiveSessions(ctx)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		m.WatchSession(s)
	}
	return nil
}

// Stop cancels every timer and loop without side effects.
func (m *Monitor) Stop() {
	m.cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cancel := range m.guestCancels {
		cancel()
		delete(m.guestCancels, id)
	}
	for id, cancel := range m.sessionLoops {
		cancel()
		delete(m.sessionLoops, id)
	}
	for id, t := range m.idleTimers {
		t.Stop()
		delete(m.idleTimers, id)
	}
}

// StartGuestMonitoring begins the repeating liveness probe for a guest.
// Starting twice for the same guest cancels the prior timer first: there is
// never more than one probe loop per guest.
func (m *Monitor) StartGuestMonitoring(g store.Guest) {
	m.mu.Lock()
	if prior, ok := m.guestCancels[g.ID]; ok {
		prior()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.guestCancels[g.ID] = cancel
	m.mu.Unlock()

	go m.guestLoop(ctx, g)
}

// StopGuestMonitoring cancels a guest's probe timer. No-op if absent.
func (m *Monitor) StopGuestMonitoring(guestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.guestCancels[guestID]; ok {
		cancel()
		delete(m.guestCancels, guestID)
	}
}

func (m *Monitor) guestLoop(ctx context.Context, g store.Guest) {
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alive, err := m.probe.HasSession(ctx, g.TmuxSession)
			if err != nil {
				m.logger.Warn("guest probe failed", "guest", g.Name, "error", err)
				continue
			}
			if alive {
				continue
			}
			// Stop our own timer before touching the record so a slow
			// cleanup can never race a second tick into re-entrant cleanup.
			// Cleanup runs on the monitor's root context: stopping the
			// probe cancelled ctx, and the store writes must still land.
			m.StopGuestMonitoring(g.ID)
			m.cleanupGuest(m.ctx, g)
			return
		}
	}
}

// cleanupGuest deletes a dead guest and announces it. Cleanup is
// best-effort: failures are logged, never retried and never surfaced.
func (m *Monitor) cleanupGuest(ctx context.Context, g store.Guest) {
	if err := m.store.DeleteGuest(ctx, g.ID); err != nil {
		m.logger.Warn("failed to delete dead guest", "guest", g.Name, "error", err)
	}
	m.emitter.Emit(events.NewGuestUnregistered(g.ID, g.ProjectID, g.Name, g.TmuxSession, events.ReasonTmuxSessionDied))
	m.logger.Info("guest unregistered", "guest", g.Name, "tmux_session", g.TmuxSession)
}
