// ABOUTME: Response orchestrator - the central layer customer messages flow through
// ABOUTME: History is the source of truth; persist first, then decide bot-reply vs silence

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/awaistahseen009/chatizia/internal/bus"
	"github.com/awaistahseen009/chatizia/internal/escalation"
	"github.com/awaistahseen009/chatizia/internal/identity"
	"github.com/awaistahseen009/chatizia/internal/llm"
	"github.com/awaistahseen009/chatizia/internal/store"
)

// Store defines what the orchestrator needs from storage.
type Store interface {
	GetChatbot(ctx context.Context, id string) (*store.Chatbot, error)
	EnsureConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	SaveMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
	GetTakeover(ctx context.Context, conversationID string) (*store.Takeover, error)
}

// Responder drafts automated replies.
type Responder interface {
	Generate(ctx context.Context, history []llm.Turn, passages []string) (string, error)
}

// Retriever surfaces knowledge-base passages for a chatbot.
type Retriever interface {
	SimilarChunks(ctx context.Context, chatbotID, query string, k int) ([]string, error)
}

// Escalator evaluates customer sentiment and files agent notifications.
type Escalator interface {
	Evaluate(ctx context.Context, conv *store.Conversation, text string) (escalation.Decision, error)
}

// Publisher fans events out to live subscribers.
type Publisher interface {
	Publish(event *bus.Event)
}

const (
	// historyTurns bounds how much conversation history the responder
	// sees; a turn is one customer message plus one reply.
	historyTurns = 5
	passageCount = 3

	apologyText          = "Sorry, I'm having trouble responding right now. Please try again in a moment."
	escalationNoticeText = "Thanks for your patience. I've asked a member of our team to join this conversation."
)

// Service orchestrates the customer-message flow: persist, fan out,
// evaluate escalation, and reply only while the bot owns the
// conversation.
type Service struct {
	store     Store
	responder Responder
	retriever Retriever
	escalator Escalator
	bus       Publisher
	logger    *slog.Logger
}

// New creates the orchestrator. retriever and escalator may be nil, in
// which case retrieval and escalation are skipped.
func New(st Store, responder Responder, retriever Retriever, escalator Escalator, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		responder: responder,
		retriever: retriever,
		escalator: escalator,
		bus:       publisher,
		logger:    logger.With("component", "conversation"),
	}
}

// EnsureConversation resolves the conversation for a chatbot/session
// pair, creating it if needed. The conversation ID is derived, not
// generated, so every caller lands on the same row without
// coordination.
func (s *Service) EnsureConversation(ctx context.Context, chatbotID, sessionID string) (*store.Conversation, error) {
	if chatbotID == "" || sessionID == "" {
		return nil, fmt.Errorf("chatbot id and session id are required: %w", store.ErrInvalid)
	}

	bot, err := s.store.GetChatbot(ctx, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("resolving chatbot: %w", err)
	}
	if !bot.IsActive {
		return nil, store.ErrBotInactive
	}

	now := time.Now()
	conv := &store.Conversation{
		ID:        identity.ConversationID(chatbotID, sessionID).String(),
		ChatbotID: chatbotID,
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// Insert races resolve to the existing row.
	if err := s.store.EnsureConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("ensuring conversation: %w", err)
	}
	return s.store.GetConversation(ctx, conv.ID)
}

// HandleCustomerMessage records one inbound customer message and drives
// the reply decision. The customer message is persisted and fanned out
// unconditionally; whether the bot answers depends on ownership and the
// escalation verdict. Returns the bot's reply message, or nil when the
// bot stayed silent.
func (s *Service) HandleCustomerMessage(ctx context.Context, conversationID, text string) (*store.Message, error) {
	if text == "" {
		return nil, fmt.Errorf("message text is required: %w", store.ErrInvalid)
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("resolving conversation: %w", err)
	}

	// Record first, then act. The customer message lands in history
	// even if everything downstream fails.
	customerMsg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Role:           store.RoleCustomer,
		Content:        text,
		CreatedAt:      time.Now(),
	}
	if err := s.store.SaveMessage(ctx, customerMsg); err != nil {
		return nil, fmt.Errorf("recording customer message: %w", err)
	}
	s.publishMessage(customerMsg)

	// A live takeover means a human owns the reply.
	if owned, err := s.humanOwned(ctx, conv.ID); err != nil {
		return nil, err
	} else if owned {
		s.logger.Debug("conversation human-owned, bot silent", "conversation_id", conv.ID)
		return nil, nil
	}

	if s.escalator != nil {
		decision, err := s.escalator.Evaluate(ctx, conv, text)
		if err != nil {
			s.logger.Error("escalation evaluation failed", "conversation_id", conv.ID, "error", err)
		}
		if decision == escalation.Escalate {
			notice := s.saveAssistantMessage(ctx, conv.ID, escalationNoticeText)
			return notice, nil
		}
	}

	reply, err := s.draftReply(ctx, conv, text)
	if err != nil {
		s.logger.Error("responder failed, sending apology",
			"conversation_id", conv.ID, "error", err)
		return s.saveAssistantMessage(ctx, conv.ID, apologyText), nil
	}

	// An agent may have taken over while the responder was generating.
	// Their reply wins; ours is dropped.
	if owned, err := s.humanOwned(ctx, conv.ID); err != nil {
		return nil, err
	} else if owned {
		s.logger.Info("takeover during generation, suppressing bot reply",
			"conversation_id", conv.ID)
		return nil, nil
	}

	return s.saveAssistantMessage(ctx, conv.ID, reply), nil
}

// History returns the most recent messages in chronological order.
func (s *Service) History(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	return s.store.ListMessages(ctx, conversationID, limit)
}

func (s *Service) humanOwned(ctx context.Context, conversationID string) (bool, error) {
	_, err := s.store.GetTakeover(ctx, conversationID)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking ownership: %w", err)
	}
	return true, nil
}

// draftReply assembles bounded history plus optional knowledge-base
// passages and asks the responder for a reply.
func (s *Service) draftReply(ctx context.Context, conv *store.Conversation, latest string) (string, error) {
	messages, err := s.store.ListMessages(ctx, conv.ID, historyTurns*2)
	if err != nil {
		return "", fmt.Errorf("loading history: %w", err)
	}

	history := make([]llm.Turn, 0, len(messages))
	for _, msg := range messages {
		role := "assistant"
		if msg.Role == store.RoleCustomer {
			role = "user"
		}
		history = append(history, llm.Turn{Role: role, Content: msg.Content})
	}

	var passages []string
	if s.retriever != nil {
		bot, err := s.store.GetChatbot(ctx, conv.ChatbotID)
		if err != nil {
			return "", fmt.Errorf("resolving chatbot: %w", err)
		}
		if bot.HasKnowledgeBase {
			passages, err = s.retriever.SimilarChunks(ctx, conv.ChatbotID, latest, passageCount)
			if err != nil {
				// Retrieval failure degrades to an ungrounded reply.
				s.logger.Warn("knowledge-base retrieval failed",
					"conversation_id", conv.ID, "error", err)
				passages = nil
			}
		}
	}

	return s.responder.Generate(ctx, history, passages)
}

// saveAssistantMessage persists and publishes one bot message. Save
// failures are logged rather than surfaced; the customer message is
// already recorded and the reply can be regenerated.
func (s *Service) saveAssistantMessage(ctx context.Context, conversationID, content string) *store.Message {
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           store.RoleAssistant,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		s.logger.Error("failed to save bot reply",
			"conversation_id", conversationID, "error", err)
		return nil
	}
	s.publishMessage(msg)
	return msg
}

func (s *Service) publishMessage(msg *store.Message) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(&bus.Event{
		ID:             msg.ID,
		Kind:           bus.EventMessage,
		ConversationID: msg.ConversationID,
		Message:        msg,
	})
}
