package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested record does not exist. Callers
// that fall through to another lookup (agent name -> guest name) must test
// with errors.Is and propagate anything else unchanged.
var ErrNotFound = errors.New("record not found")

// Page bounds a list query.
type Page struct {
	Limit  int
	Offset int
}

// Store is the storage collaborator for the coordination layer. All methods
// are safe for concurrent use.
type Store interface {
	// Projects.
	GetProject(ctx context.Context, id string) (Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	CreateProject(ctx context.Context, p Project) error

	// Agents. Get* fail with ErrNotFound.
	GetAgent(ctx context.Context, id string) (Agent, error)
	GetAgentByName(ctx context.Context, projectID, name string) (Agent, error)
	ListAgents(ctx context.Context, projectID string, page Page) ([]Agent, error)
	CreateAgent(ctx context.Context, a Agent) error

	// Sessions. ListActiveSessions returns sessions with Status running.
	ListActiveSessions(ctx context.Context) ([]Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	CreateSession(ctx context.Context, s Session) error
	UpdateSession(ctx context.Context, s Session) error
	DeleteSession(ctx context.Context, id string) error

	// Guests. GetGuestByName returns (nil, nil) on a clean miss: guest-name
	// lookup is the fall-through path and must not conflate "absent" with
	// storage failure.
	ListGuests(ctx context.Context, projectID string) ([]Guest, error)
	ListAllGuests(ctx context.Context) ([]Guest, error)
	GetGuest(ctx context.Context, id string) (Guest, error)
	GetGuestByName(ctx context.Context, projectID, name string) (*Guest, error)
	GetGuestsByIDPrefix(ctx context.Context, prefix string) ([]Guest, error)
	CreateGuest(ctx context.Context, g Guest) error
	DeleteGuest(ctx context.Context, id string) error

	// Threads.
	GetThread(ctx context.Context, id string) (Thread, error)
	CreateThread(ctx context.Context, t Thread) error
	ListThreadsByProject(ctx context.Context, projectID string) ([]Thread, error)
	CreateThreadMessage(ctx context.Context, m ThreadMessage) error
	ListThreadMessages(ctx context.Context, threadID string) ([]ThreadMessage, error)
	MarkThreadMessageRead(ctx context.Context, messageID string) error

	// Message pool tuning. Falls back to DefaultPoolConfig when the project
	// carries no override.
	GetMessagePoolConfig(ctx context.Context, projectID string) (PoolConfig, error)
	SetMessagePoolConfig(ctx context.Context, projectID string, cfg PoolConfig) error
}
