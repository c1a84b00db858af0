// Package serve exposes the coordinator over HTTP: message routing, handle
// resolution, session and guest listings, and event streaming via SSE and
// WebSocket.
package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/switchyard-ai/switchyard/internal/api"
	"github.com/switchyard-ai/switchyard/internal/events"
	"github.com/switchyard-ai/switchyard/internal/identity"
	"github.com/switchyard-ai/switchyard/internal/router"
	"github.com/switchyard-ai/switchyard/internal/store"
	"github.com/switchyard-ai/switchyard/internal/thread"
)

// Deps are the collaborators the HTTP layer fronts.
type Deps struct {
	Store    store.Store
	Resolver *identity.Resolver
	Router   *router.Router
	Threads  *thread.Service
	Bus      *events.EventBus
	Registry GuestRegistry
}

// GuestRegistry registers new guests and starts monitoring them.
type GuestRegistry interface {
	RegisterGuest(ctx context.Context, projectID, name, description, tmuxSession string) (store.Guest, error)
}

// Server is the HTTP front end.
type Server struct {
	host   string
	port   int
	deps   Deps
	logger *slog.Logger

	httpServer *http.Server

	sseClients   map[chan events.BusEvent]struct{}
	sseClientsMu sync.RWMutex
	unsubscribe  events.UnsubscribeFunc
}

// NewServer builds the server and its routes.
func NewServer(host string, port int, deps Deps) *Server {
	s := &Server{
		host:       host,
		port:       port,
		deps:       deps,
		logger:     slog.Default().With("component", "serve"),
		sseClients: make(map[chan events.BusEvent]struct{}),
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/messages", s.handleSendMessage)
		r.Get("/resolve/{handle}", s.handleResolve)
		r.Get("/sessions", s.handleSessions)
		r.Get("/guests", s.handleGuests)
		r.Post("/guests", s.handleRegisterGuest)
		r.Post("/ack", s.handleAck)
		r.Get("/threads/{id}/messages", s.handleThreadMessages)
		r.Get("/events", s.handleEventStream)
		r.Get("/ws", s.handleWS)
	})

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving and bridging bus events to streaming clients. Blocks
// until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	if s.deps.Bus != nil {
		s.unsubscribe = s.deps.Bus.SubscribeAll(s.broadcastEvent)
	}
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	return s.httpServer.Shutdown(ctx)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Debug("failed to encode response", "error", err)
	}
}

// statusFor maps error codes onto HTTP statuses.
func statusFor(err error) int {
	switch api.CodeOf(err) {
	case api.CodeInvalidHandle, api.CodeRecipientsRequired:
		return http.StatusBadRequest
	case api.CodeSessionNotFound, api.CodeRecipientNotFound:
		return http.StatusNotFound
	case api.CodeAmbiguousSession:
		return http.StatusConflict
	case api.CodeGuestThreadNotAllowed, api.CodeGuestUserDmNotAllowed, api.CodeAgentRequired:
		return http.StatusForbidden
	case api.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type sendMessageRequest struct {
	Handle string `json:"handle"`
	router.Params
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.Fail(api.Newf(api.CodeSendMessageFailed, "invalid request body: %v", err)))
		return
	}

	sender, err := s.deps.Resolver.Resolve(r.Context(), req.Handle)
	if err != nil {
		writeJSON(w, statusFor(err), api.Fail(err))
		return
	}

	result, err := s.deps.Router.Route(r.Context(), sender, req.Params)
	if err != nil {
		writeJSON(w, statusFor(err), api.Fail(err))
		return
	}
	writeJSON(w, http.StatusOK, api.OK(result))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	resolved, err := s.deps.Resolver.Resolve(r.Context(), handle)
	if err != nil {
		writeJSON(w, statusFor(err), api.Fail(err))
		return
	}
	p := resolved.Principal()
	writeJSON(w, http.StatusOK, api.OK(map[string]any{
		"kind":       resolved.Kind,
		"id":         p.ID,
		"name":       p.Name,
		"project_id": p.ProjectID,
	}))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Store.ListActiveSessions(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, api.Fail(err))
		return
	}
	writeJSON(w, http.StatusOK, api.OK(map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	}))
}

func (s *Server) handleGuests(w http.ResponseWriter, r *http.Request) {
	var (
		guests []store.Guest
		err    error
	)
	if projectID := r.URL.Query().Get("project_id"); projectID != "" {
		guests, err = s.deps.Store.ListGuests(r.Context(), projectID)
	} else {
		guests, err = s.deps.Store.ListAllGuests(r.Context())
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, api.Fail(err))
		return
	}
	writeJSON(w, http.StatusOK, api.OK(map[string]any{
		"guests": guests,
		"count":  len(guests),
	}))
}

type registerGuestRequest struct {
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TmuxSession string `json:"tmux_session"`
}

func (s *Server) handleRegisterGuest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		writeJSON(w, http.StatusServiceUnavailable, api.Fail(api.New(api.CodeServiceUnavailable, "guest registry is not available")))
		return
	}
	var req registerGuestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.Fail(api.Newf(api.CodeSendMessageFailed, "invalid request body: %v", err)))
		return
	}
	guest, err := s.deps.Registry.RegisterGuest(r.Context(), req.ProjectID, req.Name, req.Description, req.TmuxSession)
	if err != nil {
		writeJSON(w, statusFor(err), api.Fail(err))
		return
	}
	writeJSON(w, http.StatusCreated, api.OK(guest))
}

type ackRequest struct {
	Handle    string `json:"handle"`
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.Fail(api.Newf(api.CodeSendMessageFailed, "invalid request body: %v", err)))
		return
	}
	caller, err := s.deps.Resolver.Resolve(r.Context(), req.Handle)
	if err != nil {
		writeJSON(w, statusFor(err), api.Fail(err))
		return
	}
	if err := s.deps.Threads.MarkRead(r.Context(), caller.Principal().ID, req.ThreadID, req.MessageID); err != nil {
		writeJSON(w, statusFor(err), api.Fail(err))
		return
	}
	writeJSON(w, http.StatusOK, api.OK(map[string]any{"acknowledged": true}))
}

func (s *Server) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msgs, err := s.deps.Threads.ListMessages(r.Context(), id)
	if err != nil {
		writeJSON(w, statusFor(err), api.Fail(err))
		return
	}
	writeJSON(w, http.StatusOK, api.OK(map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	}))
}
