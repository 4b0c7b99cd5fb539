package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/ashureev/leadflow/internal/identity"
	"github.com/go-chi/chi/v5"
)

type startRequest struct {
	ExternalID string `json:"externalId,omitempty"`
}

type agentConfig struct {
	CompanyName string `json:"companyName"`
	HeaderColor string `json:"headerColor,omitempty"`
	LogoURL     string `json:"logoUrl,omitempty"`
}

type startResponse struct {
	ConversationID string      `json:"conversationId"`
	CompanyID      string      `json:"companyId"`
	CurrentState   string      `json:"currentState"`
	Greeting       string      `json:"greeting"`
	AgentConfig    agentConfig `json:"agentConfig"`
}

type messageRequest struct {
	Message   string `json:"message"`
	CompanyID string `json:"companyId,omitempty"`
}

type conversationSummary struct {
	ID           string                    `json:"id"`
	CurrentState string                    `json:"currentState"`
	Status       domain.ConversationStatus `json:"status"`
}

type messageResponse struct {
	Response     string               `json:"response"`
	Conversation *conversationSummary `json:"conversation,omitempty"`
}

type conversationResponse struct {
	*domain.Conversation
	Messages []*domain.Message `json:"messages"`
}

func summarize(conv *domain.Conversation) *conversationSummary {
	if conv == nil {
		return nil
	}
	return &conversationSummary{ID: conv.ID, CurrentState: conv.CurrentState, Status: conv.Status}
}

// StartForAgent starts a conversation with the agent named in the path.
func (h *Handler) StartForAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agents.Agent(chi.URLParam(r, "agentID"))
	if !ok {
		Error(w, http.StatusNotFound, "agent not found")
		return
	}
	h.start(w, r, agent)
}

// StartForWidget starts a conversation with the agent owning a widget token.
func (h *Handler) StartForWidget(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agents.AgentByWidgetToken(chi.URLParam(r, "token"))
	if !ok {
		Error(w, http.StatusNotFound, "agent not found")
		return
	}
	h.start(w, r, agent)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request, agent *domain.Agent) {
	companyID, ok := tenantFor(r, agent)
	if !ok {
		Error(w, http.StatusNotFound, "agent not found")
		return
	}

	var req startRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		externalID = identity.VisitorIDFromContext(r.Context())
	}

	ctx := r.Context()
	conv, err := h.convs.StartConversation(ctx, agent, companyID, externalID)
	if err != nil {
		h.logger.Error("failed to start conversation", "agent_id", agent.ID, "company_id", companyID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to start conversation")
		return
	}
	greeting := h.convs.InitialGreeting(ctx, agent, conv)

	JSON(w, http.StatusCreated, startResponse{
		ConversationID: conv.ID,
		CompanyID:      companyID,
		CurrentState:   conv.CurrentState,
		Greeting:       greeting.Response,
		AgentConfig: agentConfig{
			CompanyName: agent.Behavior.CompanyName,
			HeaderColor: agent.HeaderColor,
			LogoURL:     agent.LogoURL,
		},
	})
}

var errCompanyRequired = errors.New("company id required")

// loadConversation resolves a conversation and its agent within the
// request's tenant. A nil conversation with a nil error means not found.
func (h *Handler) loadConversation(r *http.Request, companyID string) (*domain.Conversation, *domain.Agent, error) {
	if companyID == "" {
		return nil, nil, errCompanyRequired
	}
	conv, err := h.history.GetConversation(r.Context(), chi.URLParam(r, "conversationID"), companyID)
	if err != nil || conv == nil {
		return nil, nil, err
	}
	agent, ok := h.agents.Agent(conv.AgentID)
	if !ok {
		return nil, nil, nil
	}
	return conv, agent, nil
}

func (h *Handler) writeLoadError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errCompanyRequired) {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("failed to load conversation", "conversation_id", chi.URLParam(r, "conversationID"), "error", err)
	Error(w, http.StatusInternalServerError, "failed to load conversation")
}

// PostMessage processes one visitor message.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	companyID := identity.CompanyIDFromContext(r.Context())
	if companyID == "" {
		companyID = strings.TrimSpace(req.CompanyID)
	}

	conv, agent, err := h.loadConversation(r, companyID)
	if err != nil {
		h.writeLoadError(w, r, err)
		return
	}
	if conv == nil {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	reply := h.convs.ProcessMessage(r.Context(), conv.ID, agent, companyID, message)
	JSON(w, http.StatusOK, messageResponse{Response: reply.Response, Conversation: summarize(reply.Conversation)})
}

// GetConversation returns a conversation and its ordered messages.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	companyID := identity.CompanyIDFromContext(r.Context())
	conv, _, err := h.loadConversation(r, companyID)
	if err != nil {
		h.writeLoadError(w, r, err)
		return
	}
	if conv == nil {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	msgs, err := h.history.ListMessages(r.Context(), conv.ID, companyID)
	if err != nil {
		h.logger.Error("failed to list messages", "conversation_id", conv.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	JSON(w, http.StatusOK, conversationResponse{Conversation: conv, Messages: msgs})
}
