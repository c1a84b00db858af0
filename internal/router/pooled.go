package router

import (
	"context"
	"fmt"

	"github.com/switchyard-ai/switchyard/internal/api"
	"github.com/switchyard-ai/switchyard/internal/identity"
	"github.com/switchyard-ai/switchyard/internal/pool"
	"github.com/switchyard-ai/switchyard/internal/store"
)

// routePooled delivers a message to each named recipient independently:
// agents through the delay-buffered pool (auto-launching offline ones),
// guests by attempt-only tmux injection.
func (r *Router) routePooled(ctx context.Context, sender identity.Context, params Params) (any, error) {
	if r.pool == nil {
		return nil, api.New(api.CodeServiceUnavailable, "message pool is not available")
	}

	principal := sender.Principal()
	recipients, err := r.resolveRecipients(ctx, principal.ProjectID, params.RecipientNames)
	if err != nil {
		return nil, err
	}
	recipients = excludeSelf(recipients, sender)
	if len(recipients) == 0 {
		return nil, api.New(api.CodeRecipientsRequired, "at least one recipient other than yourself is required")
	}

	text := formatPooledMessage(sender, params.Message)

	active, err := r.store.ListActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active sessions: %w", err)
	}
	running := make(map[string]bool, len(active))
	for _, s := range active {
		if s.AgentID != nil {
			running[*s.AgentID] = true
		}
	}

	outcomes := make([]Outcome, 0, len(recipients))
	for _, rec := range recipients {
		switch rec.Type {
		case recipientAgent:
			outcomes = append(outcomes, r.deliverToAgent(ctx, sender, rec, text, running[rec.ID]))
		case recipientGuest:
			outcomes = append(outcomes, r.deliverToGuest(ctx, rec, text))
		}
	}

	queued := 0
	for _, o := range outcomes {
		if o.Status != "failed" {
			queued++
		}
	}

	cfg, err := r.store.GetMessagePoolConfig(ctx, principal.ProjectID)
	if err != nil {
		cfg = store.DefaultPoolConfig()
	}

	return PooledResult{
		Mode:        "pooled",
		Queued:      outcomes,
		QueuedCount: queued,
		DelayMs:     cfg.Delay.Milliseconds(),
	}, nil
}

// deliverToAgent enqueues into the agent's pool, launching a session first
// when the agent is offline and auto-launch is on. Launch failure is
// swallowed: the message still queues for delivery once the agent is up.
func (r *Router) deliverToAgent(ctx context.Context, sender identity.Context, rec resolvedRecipient, text string, isRunning bool) Outcome {
	out := Outcome{Name: rec.Name, Type: "agent", Status: "queued"}

	if !isRunning && !r.opts.DisableAutoLaunch && r.launcher != nil {
		if _, err := r.launcher.LaunchSession(ctx, rec.ProjectID, rec.ID); err != nil {
			r.logger.Warn("auto-launch failed, message will queue",
				"agent", rec.Name, "error", err)
		} else {
			out.Status = "launched"
		}
	}

	principal := sender.Principal()
	entry := pool.Entry{
		Text:          text,
		Source:        "chat",
		SenderAgentID: principal.ID,
		ProjectID:     rec.ProjectID,
		AgentName:     rec.Name,
		SubmitKeys:    true,
	}
	if _, err := r.pool.Enqueue(ctx, rec.ID, entry); err != nil {
		return Outcome{Name: rec.Name, Type: "agent", Status: "failed", Error: err.Error()}
	}
	return out
}

// deliverToGuest injects directly into the guest's tmux session. Guests have
// no pooling: a dead terminal means the message is not delivered.
func (r *Router) deliverToGuest(ctx context.Context, rec resolvedRecipient, text string) Outcome {
	alive, err := r.probe.HasSession(ctx, rec.TmuxSession)
	if err != nil {
		return Outcome{Name: rec.Name, Type: "guest", Status: "failed", Error: err.Error()}
	}
	if !alive {
		return Outcome{Name: rec.Name, Type: "guest", Status: "failed", Error: "Recipient offline"}
	}
	if err := r.probe.PasteAndSubmit(ctx, rec.TmuxSession, text); err != nil {
		return Outcome{Name: rec.Name, Type: "guest", Status: "failed", Error: err.Error()}
	}
	return Outcome{Name: rec.Name, Type: "guest", Status: "delivered"}
}
