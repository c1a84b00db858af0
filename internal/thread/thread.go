// Package thread is the conversation collaborator: persisted multi-party
// threads, direct (1:1 agent to user) thread resolution, message creation and
// read acknowledgments.
package thread

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/switchyard-ai/switchyard/internal/events"
	"github.com/switchyard-ai/switchyard/internal/store"
)

// Service persists threads and messages and announces read acknowledgments.
type Service struct {
	store   store.Store
	emitter *events.Emitter
	logger  *slog.Logger
}

// NewService constructs a thread service publishing on bus (nil means the
// default bus).
func NewService(st store.Store, bus *events.EventBus) *Service {
	return &Service{
		store:   st,
		emitter: events.NewEmitter(bus, 256),
		logger:  slog.Default().With("component", "thread"),
	}
}

// Get returns a thread by id.
func (s *Service) Get(ctx context.Context, id string) (store.Thread, error) {
	return s.store.GetThread(ctx, id)
}

// EnsureDirectThread returns the project's 1:1 thread between agentID and the
// user, creating it if absent. There is at most one direct thread per agent
// per project.
func (s *Service) EnsureDirectThread(ctx context.Context, projectID, agentID string) (store.Thread, error) {
	threads, err := s.store.ListThreadsByProject(ctx, projectID)
	if err != nil {
		return store.Thread{}, fmt.Errorf("listing threads: %w", err)
	}
	for _, t := range threads {
		if t.Kind == store.ThreadDirect && directThreadFor(t, agentID) {
			return t, nil
		}
	}

	now := time.Now().UTC()
	t := store.Thread{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Kind:      store.ThreadDirect,
		Members: []store.ThreadMember{
			{Type: store.MemberAgent, AgentID: &agentID},
			{Type: store.MemberUser},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i := range t.Members {
		t.Members[i].ThreadID = t.ID
	}
	if err := s.store.CreateThread(ctx, t); err != nil {
		return store.Thread{}, fmt.Errorf("creating direct thread: %w", err)
	}
	s.logger.Info("direct thread created", "thread", t.ID, "agent", agentID)
	return t, nil
}

func directThreadFor(t store.Thread, agentID string) bool {
	for _, m := range t.Members {
		if m.Type == store.MemberAgent && m.AgentID != nil && *m.AgentID == agentID {
			return true
		}
	}
	return false
}

// CreateMessage persists one message under threadID and returns it.
func (s *Service) CreateMessage(ctx context.Context, threadID string, authorType store.MemberType, authorAgentID *string, content string) (store.ThreadMessage, error) {
	if _, err := s.store.GetThread(ctx, threadID); err != nil {
		return store.ThreadMessage{}, err
	}
	m := store.ThreadMessage{
		ID:            uuid.NewString(),
		ThreadID:      threadID,
		AuthorType:    authorType,
		AuthorAgentID: authorAgentID,
		Content:       content,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateThreadMessage(ctx, m); err != nil {
		return store.ThreadMessage{}, fmt.Errorf("creating thread message: %w", err)
	}
	return m, nil
}

// ListMessages returns a thread's messages in creation order.
func (s *Service) ListMessages(ctx context.Context, threadID string) ([]store.ThreadMessage, error) {
	return s.store.ListThreadMessages(ctx, threadID)
}

// MarkRead records a recipient's acknowledgment of a message and broadcasts
// it. sessionID identifies the acknowledging session for event scoping.
func (s *Service) MarkRead(ctx context.Context, sessionID, threadID, messageID string) error {
	if err := s.store.MarkThreadMessageRead(ctx, messageID); err != nil {
		return fmt.Errorf("marking message read: %w", err)
	}
	s.emitter.Emit(events.NewThreadMessageRead(sessionID, threadID, messageID))
	return nil
}
