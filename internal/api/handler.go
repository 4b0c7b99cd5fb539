// Package api provides the HTTP and WebSocket surface of the lead agent.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/ashureev/leadflow/internal/identity"
	"github.com/ashureev/leadflow/internal/orchestrator"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 << 10

// Agents resolves agent definitions.
type Agents interface {
	Agent(id string) (*domain.Agent, bool)
	AgentByWidgetToken(token string) (*domain.Agent, bool)
}

// Conversations runs conversation turns.
type Conversations interface {
	StartConversation(ctx context.Context, agent *domain.Agent, companyID, externalID string) (*domain.Conversation, error)
	InitialGreeting(ctx context.Context, agent *domain.Agent, conv *domain.Conversation) orchestrator.Reply
	ProcessMessage(ctx context.Context, conversationID string, agent *domain.Agent, companyID, message string) orchestrator.Reply
}

// History reads stored conversations.
type History interface {
	GetConversation(ctx context.Context, id, companyID string) (*domain.Conversation, error)
	ListMessages(ctx context.Context, conversationID, companyID string) ([]*domain.Message, error)
}

// Handler serves the conversation endpoints.
type Handler struct {
	agents   Agents
	convs    Conversations
	history  History
	sessions *SessionManager
	origins  []string
	logger   *slog.Logger
}

// NewHandler creates a new Handler. origins are the host patterns accepted
// for WebSocket handshakes.
func NewHandler(agents Agents, convs Conversations, history History, origins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		agents:   agents,
		convs:    convs,
		history:  history,
		sessions: NewSessionManager(logger),
		origins:  originPatterns(origins),
		logger:   logger,
	}
}

// Sessions exposes the live chat sockets, closed on shutdown.
func (h *Handler) Sessions() *SessionManager { return h.sessions }

// RegisterRoutes registers conversation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/agents/{agentID}/conversations", h.StartForAgent)
		r.Post("/widget/{token}/conversations", h.StartForWidget)
		r.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Get("/", h.GetConversation)
			r.Post("/messages", h.PostMessage)
			r.Get("/ws", h.ServeChat)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// tenantFor returns the tenant a request may act on for agent. A declared
// tenant that differs from the agent's hides the agent.
func tenantFor(r *http.Request, agent *domain.Agent) (string, bool) {
	declared := identity.CompanyIDFromContext(r.Context())
	if declared != "" && declared != agent.CompanyID {
		return "", false
	}
	return agent.CompanyID, true
}

// originPatterns converts configured origins to the host patterns used by
// the WebSocket handshake.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		if o = strings.TrimRight(o, "/"); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = append(out, "*")
	}
	return out
}
