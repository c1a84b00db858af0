package serve

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/switchyard-ai/switchyard/internal/events"
)

// Streaming clients that cannot keep up lose events rather than stall the
// bus; each client gets its own buffered channel.
const streamClientBuffer = 100

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The server binds to loopback by default; origin checks add nothing
	// for local tooling.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// broadcastEvent fans a bus event out to every streaming client.
func (s *Server) broadcastEvent(ev events.BusEvent) {
	s.sseClientsMu.RLock()
	defer s.sseClientsMu.RUnlock()
	for ch := range s.sseClients {
		select {
		case ch <- ev:
		default:
			// Client buffer full, skip.
		}
	}
}

func (s *Server) addStreamClient() chan events.BusEvent {
	ch := make(chan events.BusEvent, streamClientBuffer)
	s.sseClientsMu.Lock()
	s.sseClients[ch] = struct{}{}
	s.sseClientsMu.Unlock()
	return ch
}

func (s *Server) removeStreamClient(ch chan events.BusEvent) {
	s.sseClientsMu.Lock()
	delete(s.sseClients, ch)
	s.sseClientsMu.Unlock()
	close(ch)
}

// handleEventStream streams bus events as SSE.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := s.addStreamClient()
	defer s.removeStreamClient(ch)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"time\":%q}\n\n",
		time.Now().UTC().Format(time.RFC3339))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType(), data)
			flusher.Flush()
		}
	}
}

// handleWS streams bus events over a WebSocket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.addStreamClient()
	defer s.removeStreamClient(ch)

	// Reader goroutine: drain client frames, keep the pong deadline fresh.
	done := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev := <-ch:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
