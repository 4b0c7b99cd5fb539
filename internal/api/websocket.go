package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/ashureev/leadflow/internal/identity"
	"github.com/coder/websocket"
)

const (
	wsReadLimit    = 16 << 10
	wsWriteTimeout = 10 * time.Second
)

// chatFrame is the WebSocket message structure in both directions.
type chatFrame struct {
	Type    string                    `json:"type"`
	Content string                    `json:"content,omitempty"`
	State   string                    `json:"state,omitempty"`
	Status  domain.ConversationStatus `json:"status,omitempty"`
	Error   string                    `json:"error,omitempty"`
}

// ServeChat upgrades to a WebSocket that carries conversation turns.
// Client frames are {"type":"message","content":"..."}; each produces a
// {"type":"reply"} frame.
func (h *Handler) ServeChat(w http.ResponseWriter, r *http.Request) {
	companyID := identity.CompanyIDFromContext(r.Context())
	conv, agent, err := h.loadConversation(r, companyID)
	if err != nil {
		h.writeLoadError(w, r, err)
		return
	}
	if conv == nil {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	h.logger.Info("chat connection request", "conversation_id", conv.ID, "company_id", companyID, "ip", identity.IPFromRequest(r))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("failed to accept websocket", "conversation_id", conv.ID, "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("failed to close websocket", "conversation_id", conv.ID, "error", closeErr)
		}
	}()
	ws.SetReadLimit(wsReadLimit)

	h.sessions.Register(conv.ID, ws)
	defer h.sessions.Unregister(conv.ID, ws)

	ctx := r.Context()
	if err := writeFrame(ctx, ws, chatFrame{Type: "ready", State: conv.CurrentState, Status: conv.Status}); err != nil {
		return
	}
	h.chatLoop(ctx, ws, conv.ID, agent, companyID)
}

func (h *Handler) chatLoop(ctx context.Context, ws *websocket.Conn, conversationID string, agent *domain.Agent, companyID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				h.logger.Debug("websocket closed", "conversation_id", conversationID)
			} else {
				h.logger.Warn("websocket read error", "conversation_id", conversationID, "error", err)
			}
			return
		}

		var in chatFrame
		if err := json.Unmarshal(data, &in); err != nil || in.Type != "message" || strings.TrimSpace(in.Content) == "" {
			if err := writeFrame(ctx, ws, chatFrame{Type: "error", Error: "invalid_message"}); err != nil {
				return
			}
			continue
		}

		reply := h.convs.ProcessMessage(ctx, conversationID, agent, companyID, strings.TrimSpace(in.Content))
		out := chatFrame{Type: "reply", Content: reply.Response}
		if reply.Conversation != nil {
			out.State = reply.Conversation.CurrentState
			out.Status = reply.Conversation.Status
		}
		if err := writeFrame(ctx, ws, out); err != nil {
			h.logger.Debug("websocket write error", "conversation_id", conversationID, "error", err)
			return
		}
	}
}

func writeFrame(ctx context.Context, ws *websocket.Conn, f chatFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
