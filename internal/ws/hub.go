package ws

import (
	"sync"

	"go.uber.org/zap"
)

// Hub tracks every live session for the stats endpoint and for server
// shutdown. Room membership is the registry's business; the hub only
// knows connections.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Register adds a session to the hub.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	h.logger.Debug("Session registered", zap.String("session", s.ID))
}

// Unregister removes a session, but only the instance that was
// registered under that id.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	if existing, ok := h.sessions[s.ID]; ok && existing == s {
		delete(h.sessions, s.ID)
		h.logger.Debug("Session unregistered", zap.String("session", s.ID))
	}
	h.mu.Unlock()
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// CloseAll tears down every session. Sessions unregister themselves as
// they close, so the set is snapshotted first.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
}
