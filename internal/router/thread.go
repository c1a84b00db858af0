package router

import (
	"context"
	"fmt"

	"github.com/switchyard-ai/switchyard/internal/api"
	"github.com/switchyard-ai/switchyard/internal/identity"
	"github.com/switchyard-ai/switchyard/internal/store"
)

// routeThread persists the message under the thread, then notifies each
// fan-out agent by injecting a chat notification with an acknowledgment
// instruction into its running session, launching one if needed.
func (r *Router) routeThread(ctx context.Context, sender identity.Context, threadID string, params Params) (any, error) {
	if r.threads == nil {
		return nil, api.New(api.CodeServiceUnavailable, "thread service is not available")
	}
	if sender.Agent == nil {
		return nil, api.New(api.CodeAgentRequired, "session has no bound agent; cannot post to a thread")
	}

	t, err := r.threads.Get(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("loading thread %s: %w", threadID, err)
	}

	msg, err := r.threads.CreateMessage(ctx, t.ID, store.MemberAgent, &sender.Agent.ID, params.Message)
	if err != nil {
		return nil, err
	}

	targets, err := r.threadFanout(ctx, sender, t, params.RecipientNames)
	if err != nil {
		return nil, err
	}

	active, err := r.store.ListActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active sessions: %w", err)
	}
	sessionFor := make(map[string]store.Session, len(active))
	for _, s := range active {
		if s.AgentID != nil {
			sessionFor[*s.AgentID] = s
		}
	}

	outcomes := make([]Outcome, 0, len(targets))
	for _, target := range targets {
		outcomes = append(outcomes, r.notifyThreadMember(ctx, sender, target, t.ID, msg.ID, params.Message, sessionFor))
	}

	return ThreadResult{
		Mode:      "thread",
		ThreadID:  t.ID,
		MessageID: msg.ID,
		Notified:  outcomes,
	}, nil
}

// threadFanout picks the agents to notify: the explicitly named ones when
// given, otherwise every other agent member of a multi-member thread.
func (r *Router) threadFanout(ctx context.Context, sender identity.Context, t store.Thread, names []string) ([]resolvedRecipient, error) {
	if len(names) > 0 {
		recipients, err := r.resolveRecipients(ctx, sender.Agent.ProjectID, names)
		if err != nil {
			return nil, err
		}
		agents := recipients[:0]
		for _, rec := range excludeSelf(recipients, sender) {
			if rec.Type == recipientAgent {
				agents = append(agents, rec)
			}
		}
		return agents, nil
	}

	if len(t.Members) <= 1 {
		return nil, nil
	}
	var out []resolvedRecipient
	for _, m := range t.Members {
		if m.Type != store.MemberAgent || m.AgentID == nil || *m.AgentID == sender.Agent.ID {
			continue
		}
		agent, err := r.store.GetAgent(ctx, *m.AgentID)
		if err != nil {
			// A member whose agent record is gone is skipped, not fatal.
			r.logger.Debug("thread member agent missing", "agent_id", *m.AgentID, "error", err)
			continue
		}
		out = append(out, resolvedRecipient{
			Type:      recipientAgent,
			ID:        agent.ID,
			Name:      agent.Name,
			ProjectID: agent.ProjectID,
		})
	}
	return out, nil
}

// notifyThreadMember injects the notification into the member's session,
// launching one when absent. With no session obtainable the message stays
// queued in the thread for the agent's next read.
func (r *Router) notifyThreadMember(ctx context.Context, sender identity.Context, target resolvedRecipient, threadID, messageID, body string, sessionFor map[string]store.Session) Outcome {
	sess, ok := sessionFor[target.ID]
	if !ok && !r.opts.DisableAutoLaunch && r.launcher != nil {
		launched, err := r.launcher.LaunchSession(ctx, target.ProjectID, target.ID)
		if err != nil {
			r.logger.Warn("auto-launch failed for thread notification",
				"agent", target.Name, "error", err)
		} else {
			sess, ok = launched, true
		}
	}
	if !ok {
		return Outcome{Name: target.Name, Type: "agent", Status: "queued"}
	}

	text := formatThreadNotification(sender, sess.ID, threadID, messageID, body)
	if err := r.probe.PasteAndSubmit(ctx, sess.TmuxSession, text); err != nil {
		return Outcome{Name: target.Name, Type: "agent", Status: "failed", Error: err.Error()}
	}
	return Outcome{Name: target.Name, Type: "agent", Status: "delivered"}
}

// formatThreadNotification embeds the acknowledgment instruction so the
// recipient can mark the message read.
func formatThreadNotification(sender identity.Context, sessionID, threadID, messageID, body string) string {
	p := sender.Principal()
	return fmt.Sprintf(
		"[thread message from %s]\n%s\n\nWhen read, acknowledge with: switchyard ack --session %s --thread %s --message %s",
		p.Name, body, sessionID, threadID, messageID)
}
