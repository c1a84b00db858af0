package events

import "time"

// Event types published by the coordination layer.
const (
	EventGuestUnregistered = "guest.unregistered"
	EventSessionActivity   = "session.activity"
	EventSessionEnded      = "session.ended"
	EventThreadMessageRead = "thread.message_read"
)

// Reasons carried by guest.unregistered events.
const (
	ReasonTmuxSessionDied = "tmux_session_died"
)

// GuestUnregisteredEvent is published when the monitor deletes a guest whose
// tmux session has died.
type GuestUnregisteredEvent struct {
	BaseEvent

	GuestID       string `json:"guest_id"`
	ProjectID     string `json:"project_id"`
	Name          string `json:"name"`
	TmuxSessionID string `json:"tmux_session_id"`
	Reason        string `json:"reason"`
}

// NewGuestUnregistered constructs a guest.unregistered event with UTC timestamp.
func NewGuestUnregistered(guestID, projectID, name, tmuxSessionID, reason string) GuestUnregisteredEvent {
	return GuestUnregisteredEvent{
		BaseEvent: BaseEvent{
			Type:      EventGuestUnregistered,
			Timestamp: time.Now().UTC(),
		},
		GuestID:       guestID,
		ProjectID:     projectID,
		Name:          name,
		TmuxSessionID: tmuxSessionID,
		Reason:        reason,
	}
}

// SessionActivityEvent is broadcast on a session's channel whenever its
// busy/idle classification changes.
type SessionActivityEvent struct {
	BaseEvent

	State          string     `json:"state"` // "busy" or "idle"
	LastActivityAt time.Time  `json:"last_activity_at"`
	BusySince      *time.Time `json:"busy_since,omitempty"`
}

// NewSessionActivity constructs a session.activity event scoped to sessionID.
func NewSessionActivity(sessionID, state string, lastActivityAt time.Time, busySince *time.Time) SessionActivityEvent {
	return SessionActivityEvent{
		BaseEvent: BaseEvent{
			Type:      EventSessionActivity,
			Session:   sessionID,
			Timestamp: time.Now().UTC(),
		},
		State:          state,
		LastActivityAt: lastActivityAt,
		BusySince:      busySince,
	}
}

// SessionEndedEvent is published when a session's terminal disappears.
type SessionEndedEvent struct {
	BaseEvent

	AgentID string `json:"agent_id,omitempty"`
}

// NewSessionEnded constructs a session.ended event.
func NewSessionEnded(sessionID, agentID string) SessionEndedEvent {
	return SessionEndedEvent{
		BaseEvent: BaseEvent{
			Type:      EventSessionEnded,
			Session:   sessionID,
			Timestamp: time.Now().UTC(),
		},
		AgentID: agentID,
	}
}

// ThreadMessageReadEvent is published when a recipient acknowledges a thread
// message.
type ThreadMessageReadEvent struct {
	BaseEvent

	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
}

// NewThreadMessageRead constructs a thread.message_read event.
func NewThreadMessageRead(sessionID, threadID, messageID string) ThreadMessageReadEvent {
	return ThreadMessageReadEvent{
		BaseEvent: BaseEvent{
			Type:      EventThreadMessageRead,
			Session:   sessionID,
			Timestamp: time.Now().UTC(),
		},
		ThreadID:  threadID,
		MessageID: messageID,
	}
}
