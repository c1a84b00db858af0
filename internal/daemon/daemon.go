// Package daemon wires the coordinator together: store, tmux client, event
// bus, monitor, pool, launcher, thread service, resolver, router and the
// HTTP server. Construction is two-phase: build everything, then attach the
// cross-references (launcher to monitor) explicitly.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/switchyard-ai/switchyard/internal/api"
	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/internal/events"
	"github.com/switchyard-ai/switchyard/internal/identity"
	"github.com/switchyard-ai/switchyard/internal/launch"
	"github.com/switchyard-ai/switchyard/internal/monitor"
	"github.com/switchyard-ai/switchyard/internal/pool"
	"github.com/switchyard-ai/switchyard/internal/router"
	"github.com/switchyard-ai/switchyard/internal/serve"
	"github.com/switchyard-ai/switchyard/internal/store"
	"github.com/switchyard-ai/switchyard/internal/thread"
	"github.com/switchyard-ai/switchyard/internal/tmux"
)

// Daemon is the long-running coordinator process.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	Store    store.Store
	Tmux     *tmux.Client
	Bus      *events.EventBus
	Monitor  *monitor.Monitor
	Pool     *pool.Pool
	Launcher *launch.Launcher
	Threads  *thread.Service
	Resolver *identity.Resolver
	Router   *router.Router
	Server   *serve.Server

	watchers []*config.OverrideWatcher
}

// New builds a daemon from configuration. The store is sqlite when a
// database path is configured, in-memory otherwise.
func New(cfg *config.Config) (*Daemon, error) {
	var st store.Store
	if cfg.DatabasePath != "" {
		sqlite, err := store.OpenSQLite(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		st = sqlite
	} else {
		st = store.NewMemory()
	}

	d := &Daemon{
		cfg:    cfg,
		logger: slog.Default().With("component", "daemon"),
		Store:  st,
		Tmux:   tmux.NewClient(),
		Bus:    events.NewEventBus(),
	}

	d.Monitor = monitor.New(st, d.Tmux, d.Bus, monitor.Config{
		ProbeInterval: cfg.Monitor.ProbeInterval(),
		IdleTimeout:   cfg.Monitor.IdleTimeout(),
		PollInterval:  cfg.Monitor.PollInterval(),
		CaptureLines:  cfg.Monitor.CaptureLines,
	})
	d.Pool = pool.New(d.injectToAgent, d.poolConfigFor)
	d.Launcher = launch.New(st, d.Tmux)
	d.Launcher.Attach(d.Monitor)
	d.Threads = thread.NewService(st, d.Bus)
	d.Resolver = identity.NewResolver(st, d.Tmux)
	d.Router = router.New(st, d.Tmux, d.Pool, d.Threads, d.Launcher, router.Options{})
	d.Server = serve.NewServer(cfg.Serve.Host, cfg.Serve.Port, serve.Deps{
		Store:    st,
		Resolver: d.Resolver,
		Router:   d.Router,
		Threads:  d.Threads,
		Bus:      d.Bus,
		Registry: d,
	})
	return d, nil
}

// Run starts monitoring and the HTTP server and blocks until ctx is
// cancelled or the server fails.
func (d *Daemon) Run(ctx context.Context) error {
	if err := tmux.EnsureInstalled(); err != nil {
		return err
	}
	if err := d.Monitor.Start(ctx); err != nil {
		return fmt.Errorf("starting monitor: %w", err)
	}
	d.watchOverrides(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		d.shutdown()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Server.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("http shutdown failed", "error", err)
	}
	d.shutdown()
	return nil
}

// shutdown cancels all timers before the store closes.
func (d *Daemon) shutdown() {
	d.Monitor.Stop()
	d.Pool.Stop()
	for _, w := range d.watchers {
		w.Close()
	}
}

// watchOverrides applies each project's .switchyard.yaml pool overrides now
// and on every file change.
func (d *Daemon) watchOverrides(ctx context.Context) {
	projects, err := d.Store.ListProjects(ctx)
	if err != nil {
		d.logger.Warn("cannot list projects for override watching", "error", err)
		return
	}
	for _, p := range projects {
		if p.Path == "" {
			continue
		}
		project := p
		if ov, err := config.LoadProjectOverrides(project.Path); err != nil {
			d.logger.Warn("invalid project overrides", "project", project.Name, "error", err)
		} else if ov != nil {
			d.applyOverrides(project.ID, ov)
		}
		w, err := config.WatchProjectOverrides(project.Path, func(ov *config.ProjectOverrides) {
			d.applyOverrides(project.ID, ov)
		})
		if err != nil {
			d.logger.Warn("cannot watch project overrides", "project", project.Name, "error", err)
			continue
		}
		d.watchers = append(d.watchers, w)
	}
}

// applyOverrides folds file overrides into the project's stored pool config.
// A nil override (file removed) resets to workspace defaults.
func (d *Daemon) applyOverrides(projectID string, ov *config.ProjectOverrides) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := d.defaultPoolConfig()
	if ov != nil && ov.Pool != nil {
		if ov.Pool.Enabled != nil {
			cfg.Enabled = *ov.Pool.Enabled
		}
		if delay := ov.Pool.DelayDuration(); delay > 0 {
			cfg.Delay = delay
		}
		if maxWait := ov.Pool.MaxWaitDuration(); maxWait > 0 {
			cfg.MaxWait = maxWait
		}
		if ov.Pool.MaxMessages != nil {
			cfg.MaxMessages = *ov.Pool.MaxMessages
		}
		if ov.Pool.Separator != nil {
			cfg.Separator = *ov.Pool.Separator
		}
	}
	if err := d.Store.SetMessagePoolConfig(ctx, projectID, cfg); err != nil {
		d.logger.Warn("failed to apply pool overrides", "project_id", projectID, "error", err)
		return
	}
	d.logger.Info("pool config updated", "project_id", projectID, "enabled", cfg.Enabled, "delay", cfg.Delay)
}

// defaultPoolConfig derives the workspace pool defaults from daemon config.
func (d *Daemon) defaultPoolConfig() store.PoolConfig {
	cfg := store.DefaultPoolConfig()
	cfg.Enabled = d.cfg.Pool.Enabled
	if d.cfg.Pool.DelayMs > 0 {
		cfg.Delay = time.Duration(d.cfg.Pool.DelayMs) * time.Millisecond
	}
	if d.cfg.Pool.MaxWaitMs > 0 {
		cfg.MaxWait = time.Duration(d.cfg.Pool.MaxWaitMs) * time.Millisecond
	}
	if d.cfg.Pool.MaxMessages > 0 {
		cfg.MaxMessages = d.cfg.Pool.MaxMessages
	}
	if d.cfg.Pool.Separator != "" {
		cfg.Separator = d.cfg.Pool.Separator
	}
	return cfg
}

// injectToAgent is the pool's delivery function: find the agent's running
// session and paste into its terminal. Failing when the agent is offline is
// expected; the pool retries.
func (d *Daemon) injectToAgent(ctx context.Context, agentID, text string) error {
	sessions, err := d.Store.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("listing active sessions: %w", err)
	}
	for _, s := range sessions {
		if s.AgentID != nil && *s.AgentID == agentID {
			return d.Tmux.PasteAndSubmit(ctx, s.TmuxSession, text)
		}
	}
	return fmt.Errorf("agent %s has no running session", agentID)
}

// poolConfigFor resolves pool tuning per project, falling back to the
// workspace defaults on storage failure.
func (d *Daemon) poolConfigFor(ctx context.Context, projectID string) (store.PoolConfig, error) {
	if projectID == "" {
		return d.defaultPoolConfig(), nil
	}
	cfg, err := d.Store.GetMessagePoolConfig(ctx, projectID)
	if err != nil {
		return d.defaultPoolConfig(), nil
	}
	return cfg, nil
}

// RegisterGuest validates and creates a guest, then starts monitoring it.
// The guest's terminal must exist at registration time.
func (d *Daemon) RegisterGuest(ctx context.Context, projectID, name, description, tmuxSession string) (store.Guest, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Guest{}, api.New(api.CodeSendMessageFailed, "guest name is required")
	}
	if err := tmux.ValidateSessionName(tmuxSession); err != nil {
		return store.Guest{}, api.Newf(api.CodeSendMessageFailed, "invalid tmux session: %v", err)
	}
	if _, err := d.Store.GetProject(ctx, projectID); err != nil {
		return store.Guest{}, fmt.Errorf("loading project: %w", err)
	}
	if existing, err := d.Store.GetGuestByName(ctx, projectID, name); err != nil {
		return store.Guest{}, err
	} else if existing != nil {
		return store.Guest{}, api.Newf(api.CodeSendMessageFailed, "guest %q already registered", name)
	}
	alive, err := d.Tmux.HasSession(ctx, tmuxSession)
	if err != nil {
		return store.Guest{}, err
	}
	if !alive {
		return store.Guest{}, api.Newf(api.CodeSessionNotFound, "tmux session %q does not exist", tmuxSession)
	}

	now := time.Now().UTC()
	g := store.Guest{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Name:        name,
		Description: description,
		TmuxSession: tmuxSession,
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := d.Store.CreateGuest(ctx, g); err != nil {
		return store.Guest{}, fmt.Errorf("creating guest: %w", err)
	}
	d.Monitor.StartGuestMonitoring(g)
	d.logger.Info("guest registered", "guest", g.Name, "tmux_session", g.TmuxSession)
	return g, nil
}
