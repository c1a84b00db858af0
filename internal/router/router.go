// Package router decides, per send call, how a message reaches its
// recipients: direct pooled injection into agent terminals, attempt-only
// tmux delivery to guests, or a persisted thread message fanned out with an
// acknowledgment prompt. Delivery is per-recipient: one recipient failing
// never aborts the batch.
package router

import (
	"context"
	"log/slog"

	"github.com/switchyard-ai/switchyard/internal/api"
	"github.com/switchyard-ai/switchyard/internal/identity"
	"github.com/switchyard-ai/switchyard/internal/pool"
	"github.com/switchyard-ai/switchyard/internal/store"
	"github.com/switchyard-ai/switchyard/internal/thread"
	"github.com/switchyard-ai/switchyard/internal/tmux"
)

// RecipientUser is the reserved recipient name addressing the human user.
const RecipientUser = "user"

// Launcher starts (or returns) a running session for an agent.
type Launcher interface {
	LaunchSession(ctx context.Context, projectID, agentID string) (store.Session, error)
}

// Enqueuer is the delay-buffered message pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, agentID string, e pool.Entry) (pool.EnqueueResult, error)
}

// Threads is the conversation collaborator.
type Threads interface {
	Get(ctx context.Context, id string) (store.Thread, error)
	EnsureDirectThread(ctx context.Context, projectID, agentID string) (store.Thread, error)
	CreateMessage(ctx context.Context, threadID string, authorType store.MemberType, authorAgentID *string, content string) (store.ThreadMessage, error)
}

var _ Threads = (*thread.Service)(nil)

// Params address one send call. At most one of ThreadID, Recipient ("user")
// and RecipientNames may be set.
type Params struct {
	ThreadID       string   `json:"thread_id,omitempty"`
	Recipient      string   `json:"recipient,omitempty"`
	RecipientNames []string `json:"recipient_names,omitempty"`
	Message        string   `json:"message"`
}

// Outcome is the per-recipient delivery result.
type Outcome struct {
	Name   string `json:"name"`
	Type   string `json:"type"`   // "agent" or "guest"
	Status string `json:"status"` // "queued", "launched", "delivered" or "failed"
	Error  string `json:"error,omitempty"`
}

// PooledResult is the response data for pooled mode.
type PooledResult struct {
	Mode        string    `json:"mode"` // "pooled"
	Queued      []Outcome `json:"queued"`
	QueuedCount int       `json:"queuedCount"`
	DelayMs     int64     `json:"delayMs"`
}

// ThreadResult is the response data for thread mode.
type ThreadResult struct {
	Mode      string    `json:"mode"` // "thread"
	ThreadID  string    `json:"threadId"`
	MessageID string    `json:"messageId"`
	Notified  []Outcome `json:"notified"`
}

// Options tune router behavior.
type Options struct {
	// DisableAutoLaunch suppresses launching sessions for offline agent
	// recipients. Set under test lifecycles so sends never spawn terminals.
	DisableAutoLaunch bool
}

// Router routes messages from a resolved sender to its recipients.
type Router struct {
	store    store.Store
	probe    tmux.Prober
	pool     Enqueuer
	threads  Threads
	launcher Launcher
	opts     Options
	logger   *slog.Logger
}

// New wires a router. pool, threads and launcher may be nil; routing calls
// that need a missing collaborator fail ServiceUnavailable.
func New(st store.Store, probe tmux.Prober, p Enqueuer, th Threads, l Launcher, opts Options) *Router {
	return &Router{
		store:    st,
		probe:    probe,
		pool:     p,
		threads:  th,
		launcher: l,
		opts:     opts,
		logger:   slog.Default().With("component", "router"),
	}
}

// Route delivers one message. Coded errors pass through; anything unexpected
// is caught here and reported as SendMessageFailed carrying the original
// message text, never silently swallowed.
func (r *Router) Route(ctx context.Context, sender identity.Context, params Params) (any, error) {
	result, err := r.route(ctx, sender, params)
	if err != nil {
		if api.AsError(err) != nil {
			return nil, err
		}
		r.logger.Error("routing failed", "error", err)
		return nil, api.Newf(api.CodeSendMessageFailed, "message delivery failed: %v", err).
			WithData(map[string]any{"message": params.Message})
	}
	return result, nil
}

func (r *Router) route(ctx context.Context, sender identity.Context, params Params) (any, error) {
	// Guest restrictions come before any routing logic: guests get named
	// pooled delivery only.
	if sender.Kind == identity.KindGuest {
		if params.ThreadID != "" {
			return nil, api.New(api.CodeGuestThreadNotAllowed, "guests cannot post to threads")
		}
		if params.Recipient == RecipientUser {
			return nil, api.New(api.CodeGuestUserDmNotAllowed, "guests cannot message the user directly")
		}
	}

	switch {
	case params.ThreadID == "" && params.Recipient != RecipientUser:
		return r.routePooled(ctx, sender, params)
	case params.Recipient == RecipientUser && params.ThreadID == "":
		return r.routeUserDM(ctx, sender, params)
	default:
		return r.routeThread(ctx, sender, params.ThreadID, params)
	}
}

// routeUserDM resolves or creates the sender's 1:1 thread with the user and
// falls through to thread mode.
func (r *Router) routeUserDM(ctx context.Context, sender identity.Context, params Params) (any, error) {
	if r.threads == nil {
		return nil, api.New(api.CodeServiceUnavailable, "thread service is not available")
	}
	if sender.Agent == nil {
		return nil, api.New(api.CodeAgentRequired, "session has no bound agent; cannot message the user")
	}
	t, err := r.threads.EnsureDirectThread(ctx, sender.Agent.ProjectID, sender.Agent.ID)
	if err != nil {
		return nil, err
	}
	return r.routeThread(ctx, sender, t.ID, params)
}
