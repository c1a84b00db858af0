// Package store defines the persistent records switchyard coordinates over
// and the Store interface the coordination layer consumes. Two
// implementations ship with the daemon: an in-memory store used by tests and
// ephemeral runs, and a sqlite-backed store for durable workspaces.
package store

import "time"

// SessionStatus is the lifecycle state of an agent terminal session.
type SessionStatus string

const (
	SessionRunning SessionStatus = "running"
	SessionEnded   SessionStatus = "ended"
)

// ActivityState classifies a running session from its recent terminal output.
type ActivityState string

const (
	ActivityBusy ActivityState = "busy"
	ActivityIdle ActivityState = "idle"
)

// SessionIDLength is the canonical length of a full session id (UUID string).
const SessionIDLength = 36

// Project is a workspace that agents, guests and threads belong to.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Agent is a named AI agent definition within a project. An agent may have
// at most one running session at a time; that constraint is enforced by the
// launcher, not by readers of this record.
type Agent struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is an agent's live terminal. AgentID is nullable: a session can
// outlive its agent record or be launched before one is assigned.
type Session struct {
	ID             string        `json:"id"`
	AgentID        *string       `json:"agent_id,omitempty"`
	ProjectID      string        `json:"project_id"`
	TmuxSession    string        `json:"tmux_session"`
	Status         SessionStatus `json:"status"`
	Activity       ActivityState `json:"activity"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	BusySince      *time.Time    `json:"busy_since,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Guest is an externally registered participant bound to one tmux session.
// Name is unique per project (case-insensitive for lookup). The record is
// deleted by the liveness monitor once its tmux session is gone.
type Guest struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	TmuxSession string    `json:"tmux_session"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ThreadKind distinguishes 1:1 user threads from ad hoc group threads.
type ThreadKind string

const (
	ThreadDirect ThreadKind = "direct"
	ThreadGroup  ThreadKind = "group"
)

// MemberType identifies the kind of thread participant.
type MemberType string

const (
	MemberAgent MemberType = "agent"
	MemberUser  MemberType = "user"
)

// Thread is a persisted multi-party conversation.
type Thread struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Kind      ThreadKind     `json:"kind"`
	Title     string         `json:"title,omitempty"`
	Members   []ThreadMember `json:"members"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ThreadMember is one participant of a thread. AgentID is set only when
// Type is MemberAgent.
type ThreadMember struct {
	ThreadID string     `json:"thread_id"`
	Type     MemberType `json:"type"`
	AgentID  *string    `json:"agent_id,omitempty"`
}

// ThreadMessage is one persisted message inside a thread.
type ThreadMessage struct {
	ID            string     `json:"id"`
	ThreadID      string     `json:"thread_id"`
	AuthorType    MemberType `json:"author_type"`
	AuthorAgentID *string    `json:"author_agent_id,omitempty"`
	Content       string     `json:"content"`
	CreatedAt     time.Time  `json:"created_at"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
}

// PoolConfig tunes the delay-buffered message pool for one project.
type PoolConfig struct {
	Enabled     bool          `json:"enabled"`
	Delay       time.Duration `json:"delay"`
	MaxWait     time.Duration `json:"max_wait"`
	MaxMessages int           `json:"max_messages"`
	Separator   string        `json:"separator"`
}

// DefaultPoolConfig is used when a project carries no override.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Enabled:     true,
		Delay:       5 * time.Second,
		MaxWait:     30 * time.Second,
		MaxMessages: 20,
		Separator:   "\n---\n",
	}
}
