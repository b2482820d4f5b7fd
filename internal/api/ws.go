package api

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"backtest-engine/internal/engine"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// progressMessage is one frame on the progress stream.
type progressMessage struct {
	Type     string           `json:"type"` // progress | done
	Status   RunStatus        `json:"status,omitempty"`
	Progress *engine.Progress `json:"progress,omitempty"`
}

// progressHub fans run progress out to websocket subscribers. Frames
// that a slow subscriber has no buffer room for are skipped rather than
// back-pressuring the simulator.
type progressHub struct {
	logger zerolog.Logger

	mu   sync.RWMutex
	subs map[string]map[*subscriber]bool
}

type subscriber struct {
	send chan progressMessage
}

func newProgressHub(logger zerolog.Logger) *progressHub {
	return &progressHub{
		logger: logger.With().Str("component", "progress_hub").Logger(),
		subs:   make(map[string]map[*subscriber]bool),
	}
}

func (h *progressHub) subscribe(runID string) *subscriber {
	sub := &subscriber{send: make(chan progressMessage, 256)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[*subscriber]bool)
	}
	h.subs[runID][sub] = true
	return sub
}

func (h *progressHub) unsubscribe(runID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[runID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, runID)
		}
	}
}

func (h *progressHub) broadcast(runID string, p engine.Progress) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[runID] {
		select {
		case sub.send <- progressMessage{Type: "progress", Progress: &p}:
		default:
			// subscriber is not keeping up, skip the frame
		}
	}
}

func (h *progressHub) finish(runID string, status RunStatus) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[runID] {
		select {
		case sub.send <- progressMessage{Type: "done", Status: status}:
		default:
		}
		close(sub.send)
	}
}

// handleProgressStream upgrades the connection and relays run progress
// until the run completes or the client disconnects.
func (s *Server) handleProgressStream(c *gin.Context) {
	id := c.Param("id")
	run, ok := s.getRun(id)
	if !ok {
		errorResponse(c, http.StatusNotFound, "run not found")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	s.mu.RLock()
	status := run.Status
	s.mu.RUnlock()
	if status != RunRunning {
		conn.WriteJSON(progressMessage{Type: "done", Status: status})
		return
	}

	sub := s.hub.subscribe(id)
	defer s.hub.unsubscribe(id, sub)

	for msg := range sub.send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
		if msg.Type == "done" {
			return
		}
	}
}
