package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/switchyard-ai/switchyard/internal/api"
	"github.com/switchyard-ai/switchyard/internal/identity"
	"github.com/switchyard-ai/switchyard/internal/store"
)

type recipientType string

const (
	recipientAgent recipientType = "agent"
	recipientGuest recipientType = "guest"
)

// resolvedRecipient is the ephemeral product of name resolution. Never
// persisted; deduplicated by id within one routing call.
type resolvedRecipient struct {
	Type        recipientType
	ID          string
	Name        string
	ProjectID   string
	TmuxSession string // guests only
}

// resolveRecipients maps names to agents or guests. Agent lookup goes first;
// a clean not-found falls through to guest lookup, while any other storage
// error propagates unchanged. Collapsing storage failures into "not found"
// would hide outages behind a routing error, so the distinction is kept.
func (r *Router) resolveRecipients(ctx context.Context, projectID string, names []string) ([]resolvedRecipient, error) {
	seen := make(map[string]bool)
	out := make([]resolvedRecipient, 0, len(names))

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		agent, err := r.store.GetAgentByName(ctx, projectID, name)
		if err == nil {
			if !seen[agent.ID] {
				seen[agent.ID] = true
				out = append(out, resolvedRecipient{
					Type:      recipientAgent,
					ID:        agent.ID,
					Name:      agent.Name,
					ProjectID: agent.ProjectID,
				})
			}
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("looking up agent %q: %w", name, err)
		}

		guest, err := r.store.GetGuestByName(ctx, projectID, name)
		if err != nil {
			return nil, fmt.Errorf("looking up guest %q: %w", name, err)
		}
		if guest != nil {
			if !seen[guest.ID] {
				seen[guest.ID] = true
				out = append(out, resolvedRecipient{
					Type:        recipientGuest,
					ID:          guest.ID,
					Name:        guest.Name,
					ProjectID:   guest.ProjectID,
					TmuxSession: guest.TmuxSession,
				})
			}
			continue
		}

		return nil, r.recipientNotFound(ctx, projectID, name)
	}

	return out, nil
}

// recipientNotFound builds the error listing every known recipient so the
// caller can correct the name without another round trip.
func (r *Router) recipientNotFound(ctx context.Context, projectID, name string) error {
	var available []string
	if agents, err := r.store.ListAgents(ctx, projectID, store.Page{Limit: 500}); err == nil {
		for _, a := range agents {
			available = append(available, a.Name)
		}
	}
	if guests, err := r.store.ListGuests(ctx, projectID); err == nil {
		for _, g := range guests {
			available = append(available, g.Name+" (guest)")
		}
	}
	msg := fmt.Sprintf("no agent or guest named %q", name)
	if len(available) > 0 {
		msg += "; available: " + strings.Join(available, ", ")
	}
	return api.New(api.CodeRecipientNotFound, msg).
		WithData(map[string]any{"available": available})
}

// excludeSelf drops the sender from its own recipient list.
func excludeSelf(recipients []resolvedRecipient, sender identity.Context) []resolvedRecipient {
	out := recipients[:0]
	for _, rec := range recipients {
		if sender.Kind == identity.KindGuest && sender.Guest != nil && rec.ID == sender.Guest.ID {
			continue
		}
		if sender.Kind == identity.KindAgent && sender.Agent != nil && rec.ID == sender.Agent.ID {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// formatPooledMessage prepends the one-line provenance header naming the
// sender and its actor kind.
func formatPooledMessage(sender identity.Context, body string) string {
	p := sender.Principal()
	return fmt.Sprintf("[message from %s (%s)]\n%s", p.Name, sender.Kind, body)
}
