package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks the live chat socket of each conversation. A newer
// socket for the same conversation replaces the older one.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
	logger *slog.Logger
}

// NewSessionManager creates a new session manager.
func NewSessionManager(logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		active: make(map[string]*websocket.Conn),
		logger: logger,
	}
}

// Active returns the live connection of a conversation.
func (m *SessionManager) Active(conversationID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[conversationID]
}

// Len returns the number of live conversations.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Register binds conn to a conversation, closing any previous socket.
func (m *SessionManager) Register(conversationID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[conversationID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.active[conversationID] = conn
	m.logger.Info("chat session registered", "conversation_id", conversationID)
}

// Unregister removes conn if it is still the conversation's socket.
func (m *SessionManager) Unregister(conversationID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[conversationID]; ok && current == conn {
		delete(m.active, conversationID)
		m.logger.Info("chat session unregistered", "conversation_id", conversationID)
	}
}

// CloseAll terminates every live socket.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, conn := range m.active {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(m.active, id)
	}
}
