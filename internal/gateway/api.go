// ABOUTME: HTTP handlers and JSON shapes for widget and dashboard requests
// ABOUTME: Maps the store's error taxonomy onto 404/409/422/502 responses

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/awaistahseen009/chatizia/internal/ownership"
	"github.com/awaistahseen009/chatizia/internal/store"
)

// EnsureConversationRequest is the body for POST /api/conversations.
type EnsureConversationRequest struct {
	ChatbotID string `json:"chatbot_id"`
	SessionID string `json:"session_id"`
}

// ConversationResponse describes one conversation.
type ConversationResponse struct {
	ID        string `json:"id"`
	ChatbotID string `json:"chatbot_id"`
	SessionID string `json:"session_id"`
	CreatedAt string `json:"created_at"`
}

// SendMessageRequest is the body for POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// MessageResponse describes one message.
type MessageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	AgentID        string `json:"agent_id,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// SendMessageResponse carries the bot's reply, or null when the bot
// stayed silent (human-owned or escalated without notice).
type SendMessageResponse struct {
	Reply *MessageResponse `json:"reply"`
}

// MessagesResponse is the body for GET /api/conversations/{id}/messages.
type MessagesResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
}

// OwnershipResponse describes who currently owns a conversation.
// TakeoverID lets remote clients de-duplicate ownership observations.
type OwnershipResponse struct {
	HumanOwned           bool   `json:"human_owned"`
	TakeoverID           string `json:"takeover_id,omitempty"`
	AgentID              string `json:"agent_id,omitempty"`
	AgentName            string `json:"agent_name,omitempty"`
	KnowledgeBaseEnabled bool   `json:"knowledge_base_enabled"`
}

// TakeoverRequest is the body for POST /api/conversations/{id}/takeover.
type TakeoverRequest struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason,omitempty"` // "manual" (default) or "escalation"
}

// ToggleKnowledgeBaseRequest is the body for PATCH .../knowledge-base.
type ToggleKnowledgeBaseRequest struct {
	Enabled bool `json:"enabled"`
}

// NotificationResponse describes one agent notification.
type NotificationResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Type           string `json:"type"`
	Message        string `json:"message"`
	IsRead         bool   `json:"is_read"`
	ChatbotName    string `json:"chatbot_name,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func messageResponse(msg *store.Message) MessageResponse {
	resp := MessageResponse{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt.Format(time.RFC3339),
	}
	if msg.AgentID != nil {
		resp.AgentID = *msg.AgentID
	}
	return resp
}

func (s *Server) handleEnsureConversation(w http.ResponseWriter, r *http.Request) {
	var req EnsureConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	conv, err := s.conversations.EnsureConversation(r.Context(), req.ChatbotID, req.SessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, ConversationResponse{
		ID:        conv.ID,
		ChatbotID: conv.ChatbotID,
		SessionID: conv.SessionID,
		CreatedAt: conv.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	reply, err := s.conversations.HandleCustomerMessage(r.Context(), conversationID, req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := SendMessageResponse{}
	if reply != nil {
		mr := messageResponse(reply)
		resp.Reply = &mr
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, 1000)
	}

	// Verify the conversation exists so a typo'd ID is a 404, not an
	// empty list.
	if _, err := s.store.GetConversation(r.Context(), conversationID); err != nil {
		s.writeError(w, err)
		return
	}

	messages, err := s.conversations.History(r.Context(), conversationID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := MessagesResponse{
		ConversationID: conversationID,
		Messages:       make([]MessageResponse, len(messages)),
	}
	for i, msg := range messages {
		resp.Messages[i] = messageResponse(msg)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOwnershipState(w http.ResponseWriter, r *http.Request) {
	state, err := s.ownership.State(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, OwnershipResponse{
		HumanOwned:           state.HumanOwned,
		TakeoverID:           state.TakeoverID,
		AgentID:              state.AgentID,
		AgentName:            state.AgentName,
		KnowledgeBaseEnabled: state.KnowledgeBaseEnabled,
	})
}

func (s *Server) handleTakeover(w http.ResponseWriter, r *http.Request) {
	var req TakeoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.AgentID == "" {
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "agent_id is required"})
		return
	}

	reason := ownership.ReasonManual
	switch req.Reason {
	case "", "manual":
	case "escalation":
		reason = ownership.ReasonEscalation
	default:
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "reason must be manual or escalation"})
		return
	}

	takeover, err := s.ownership.TakeOver(r.Context(), r.PathValue("id"), req.AgentID, reason)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, OwnershipResponse{
		HumanOwned:           true,
		TakeoverID:           takeover.ID,
		AgentID:              takeover.AgentID,
		KnowledgeBaseEnabled: takeover.KnowledgeBaseEnabled,
	})
}

func (s *Server) handleHandBack(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "agent_id query param is required"})
		return
	}

	if err := s.ownership.HandBack(r.Context(), r.PathValue("id"), agentID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var req ToggleKnowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	if err := s.ownership.ToggleKnowledgeBase(r.Context(), r.PathValue("id"), req.Enabled); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"knowledge_base_enabled": req.Enabled})
}

// handleRequestHuman files a manual-request notification so an agent
// can pick the conversation up from the dashboard. The customer asked
// for a human; ownership still changes only when an agent acts.
func (s *Server) handleRequestHuman(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	conv, err := s.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	agents, err := s.store.ListAgentsForChatbot(r.Context(), conv.ChatbotID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(agents) == 0 {
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": "no agents available for this chatbot"})
		return
	}

	bot, err := s.store.GetChatbot(r.Context(), conv.ChatbotID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	notification := &store.Notification{
		ID:             uuid.New().String(),
		AgentID:        agents[0].ID,
		ConversationID: conv.ID,
		Type:           store.NotificationManualRequest,
		Message:        fmt.Sprintf("A customer talking to %s asked for a human agent.", bot.Name),
		ChatbotName:    bot.Name,
		CreatedAt:      time.Now(),
	}
	if err := s.store.CreateNotification(r.Context(), notification); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, NotificationResponse{
		ID:             notification.ID,
		ConversationID: notification.ConversationID,
		Type:           string(notification.Type),
		Message:        notification.Message,
		ChatbotName:    notification.ChatbotName,
		CreatedAt:      notification.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	unreadOnly := r.URL.Query().Get("unread") == "true"

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, 500)
	}

	notifications, err := s.store.ListNotificationsForAgent(r.Context(), agentID, unreadOnly, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := make([]NotificationResponse, len(notifications))
	for i, n := range notifications {
		resp[i] = NotificationResponse{
			ID:             n.ID,
			ConversationID: n.ConversationID,
			Type:           string(n.Type),
			Message:        n.Message,
			IsRead:         n.IsRead,
			ChatbotName:    n.ChatbotName,
			CreatedAt:      n.CreatedAt.Format(time.RFC3339),
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.store.MarkNotificationRead(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
