// Package identity resolves opaque session handles (full ids or unambiguous
// prefixes) to the agent session or guest behind them. Prefix matching lets
// tools reference sessions by short, typeable handles; ambiguity is surfaced
// rather than silently picking a match.
package identity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/switchyard-ai/switchyard/internal/api"
	"github.com/switchyard-ai/switchyard/internal/store"
	"github.com/switchyard-ai/switchyard/internal/tmux"
)

// MinHandleLength is the shortest accepted handle prefix.
const MinHandleLength = 8

// DisambiguationLength is how many id characters are returned per candidate
// when a prefix matches more than one session.
const DisambiguationLength = 12

// Kind discriminates the two caller identities.
type Kind string

const (
	KindAgent Kind = "agent"
	KindGuest Kind = "guest"
)

// Context is the resolved caller identity. For KindAgent, Session is always
// set while Agent and Project may be nil (the records can be deleted after
// the session was created). For KindGuest, Guest is always set while Project
// may be nil.
type Context struct {
	Kind    Kind
	Session *store.Session
	Agent   *store.Agent
	Guest   *store.Guest
	Project *store.Project
}

// Principal is the uniform identity extracted from either context kind.
type Principal struct {
	ID        string
	Name      string
	ProjectID string
}

// Principal returns the caller's id, display name and project. Agent
// sessions without an agent record fall back to the session id as name.
func (c Context) Principal() Principal {
	switch c.Kind {
	case KindGuest:
		return Principal{ID: c.Guest.ID, Name: c.Guest.Name, ProjectID: c.Guest.ProjectID}
	default:
		p := Principal{ID: c.Session.ID, ProjectID: c.Session.ProjectID}
		if c.Agent != nil {
			p.Name = c.Agent.Name
		} else {
			p.Name = shortID(c.Session.ID)
		}
		return p
	}
}

func shortID(id string) string {
	if len(id) > DisambiguationLength {
		return id[:DisambiguationLength]
	}
	return id
}

// Resolver maps handles to identities.
type Resolver struct {
	store  store.Store
	probe  tmux.Prober
	logger *slog.Logger
}

// NewResolver wires a resolver over the store and the liveness probe.
func NewResolver(st store.Store, probe tmux.Prober) *Resolver {
	return &Resolver{
		store:  st,
		probe:  probe,
		logger: slog.Default().With("component", "identity"),
	}
}

// Resolve authenticates a handle. Handles shorter than MinHandleLength fail
// InvalidHandle; full-length handles match by equality, shorter ones by
// prefix over the active session set, falling through to guests when no
// session matches.
func (r *Resolver) Resolve(ctx context.Context, handle string) (Context, error) {
	if len(handle) < MinHandleLength {
		return Context{}, api.Newf(api.CodeInvalidHandle,
			"session handle must be at least %d characters, got %d", MinHandleLength, len(handle))
	}

	sessions, err := r.store.ListActiveSessions(ctx)
	if err != nil {
		return Context{}, err
	}

	var matches []store.Session
	if len(handle) == store.SessionIDLength {
		for _, s := range sessions {
			if s.ID == handle {
				matches = append(matches, s)
				break
			}
		}
	} else {
		for _, s := range sessions {
			if len(s.ID) >= len(handle) && s.ID[:len(handle)] == handle {
				matches = append(matches, s)
			}
		}
	}

	switch len(matches) {
	case 0:
		return r.resolveGuest(ctx, handle)
	case 1:
		return r.agentContext(ctx, matches[0]), nil
	default:
		prefixes := make([]string, 0, len(matches))
		for _, s := range matches {
			prefixes = append(prefixes, shortID(s.ID))
		}
		return Context{}, api.Newf(api.CodeAmbiguousSession,
			"handle %q matches %d sessions; retry with a longer prefix", handle, len(matches)).
			WithData(map[string]any{"candidates": prefixes})
	}
}

// agentContext assembles the agent-side context. Agent and project lookups
// downgrade to nil on any failure: a deleted agent must not make its
// still-running session unresolvable.
func (r *Resolver) agentContext(ctx context.Context, sess store.Session) Context {
	out := Context{Kind: KindAgent, Session: &sess}

	if sess.AgentID != nil {
		agent, err := r.store.GetAgent(ctx, *sess.AgentID)
		if err != nil {
			r.logger.Debug("agent lookup failed during resolution",
				"session", sess.ID, "agent_id", *sess.AgentID, "error", err)
		} else {
			out.Agent = &agent
		}
	}

	if project, err := r.store.GetProject(ctx, sess.ProjectID); err == nil {
		out.Project = &project
	} else {
		r.logger.Debug("project lookup failed during resolution",
			"session", sess.ID, "project_id", sess.ProjectID, "error", err)
	}

	return out
}

// resolveGuest is the fall-through when no session matched the handle.
func (r *Resolver) resolveGuest(ctx context.Context, handle string) (Context, error) {
	var candidates []store.Guest

	if len(handle) == store.SessionIDLength {
		guest, err := r.store.GetGuest(ctx, handle)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return Context{}, err
			}
		} else {
			candidates = append(candidates, guest)
		}
	} else {
		guests, err := r.store.GetGuestsByIDPrefix(ctx, handle)
		if err != nil {
			return Context{}, err
		}
		candidates = guests
	}

	if len(candidates) != 1 {
		return Context{}, api.Newf(api.CodeSessionNotFound, "no session or guest matches handle %q", handle)
	}

	guest := candidates[0]
	alive, err := r.probe.HasSession(ctx, guest.TmuxSession)
	if err != nil {
		return Context{}, err
	}
	if !alive {
		return Context{}, api.Newf(api.CodeSessionNotFound,
			"guest %q matched handle %q but its terminal is gone", guest.Name, handle)
	}

	out := Context{Kind: KindGuest, Guest: &guest}
	if project, err := r.store.GetProject(ctx, guest.ProjectID); err == nil {
		out.Project = &project
	} else {
		r.logger.Debug("project lookup failed during guest resolution",
			"guest", guest.ID, "project_id", guest.ProjectID, "error", err)
	}
	return out, nil
}
