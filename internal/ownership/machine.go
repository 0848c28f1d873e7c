// ABOUTME: Ownership state machine deciding who answers a conversation
// ABOUTME: Bot-owned by default; takeover and hand-back cycle through the takeover row

package ownership

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/awaistahseen009/chatizia/internal/bus"
	"github.com/awaistahseen009/chatizia/internal/store"
)

// Store defines what the machine needs from storage.
type Store interface {
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	CreateTakeover(ctx context.Context, t *store.Takeover) error
	GetTakeover(ctx context.Context, conversationID string) (*store.Takeover, error)
	DeleteTakeover(ctx context.Context, conversationID, agentID string) error
	SetKnowledgeBase(ctx context.Context, conversationID string, enabled bool) error
	SaveMessage(ctx context.Context, msg *store.Message) error
}

// Publisher fans ownership and system-message events out to subscribers.
type Publisher interface {
	Publish(event *bus.Event)
}

// Resetter is notified when a conversation cycles back to bot-owned, so the
// escalation policy can re-arm its once-per-period latch.
type Resetter interface {
	ResetConversation(conversationID string)
}

// TakeoverReason distinguishes how ownership was asserted. It decides the
// knowledge-base default: an agent picking a conversation up manually keeps
// retrieval on; accepting an escalation turns it off until the agent
// explicitly re-enables it.
type TakeoverReason string

const (
	ReasonManual     TakeoverReason = "manual"
	ReasonEscalation TakeoverReason = "escalation"
)

// State is the current ownership of a conversation. TakeoverID is empty
// while bot-owned.
type State struct {
	HumanOwned           bool
	TakeoverID           string
	AgentID              string
	AgentName            string
	KnowledgeBaseEnabled bool
}

// Machine is the authoritative ownership layer. There are two states,
// bot-owned and human-owned, encoded by the absence or presence of the
// takeover row; the store's conflict-on-insert is the only lock. A second
// agent cannot displace the first; ownership must cycle through hand-back.
type Machine struct {
	store    Store
	bus      Publisher
	resetter Resetter
	logger   *slog.Logger
}

// New creates an ownership machine. resetter may be nil.
func New(st Store, publisher Publisher, resetter Resetter, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		store:    st,
		bus:      publisher,
		resetter: resetter,
		logger:   logger.With("component", "ownership"),
	}
}

// State reports the current ownership of a conversation.
func (m *Machine) State(ctx context.Context, conversationID string) (*State, error) {
	takeover, err := m.store.GetTakeover(ctx, conversationID)
	if err == store.ErrNotFound {
		return &State{HumanOwned: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading takeover: %w", err)
	}

	agentName := ""
	if agent, err := m.store.GetAgent(ctx, takeover.AgentID); err == nil {
		agentName = agent.Name
	}

	return &State{
		HumanOwned:           true,
		TakeoverID:           takeover.ID,
		AgentID:              takeover.AgentID,
		AgentName:            agentName,
		KnowledgeBaseEnabled: takeover.KnowledgeBaseEnabled,
	}, nil
}

// TakeOver transitions a conversation to human-owned. Returns
// store.ErrConflict when another agent already owns it; the insert conflict
// is the authoritative race arbiter, there is no pre-check. On success a
// system message announces the agent by name and an ownership event is
// published.
func (m *Machine) TakeOver(ctx context.Context, conversationID, agentID string, reason TakeoverReason) (*store.Takeover, error) {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("looking up agent: %w", err)
	}

	takeover := &store.Takeover{
		ID:                   uuid.New().String(),
		ConversationID:       conversationID,
		AgentID:              agentID,
		KnowledgeBaseEnabled: reason == ReasonManual,
		AssignedAt:           time.Now(),
	}
	if err := m.store.CreateTakeover(ctx, takeover); err != nil {
		return nil, err
	}

	m.logger.Info("agent took over conversation",
		"conversation_id", conversationID,
		"agent_id", agentID,
		"reason", reason)

	m.announce(ctx, conversationID, agentID,
		fmt.Sprintf("%s has joined the conversation.", agent.Name))

	m.bus.Publish(&bus.Event{
		ID:             bus.OwnershipStateKey(takeover.ID, takeover.KnowledgeBaseEnabled),
		Kind:           bus.EventOwnership,
		ConversationID: conversationID,
		Ownership: &bus.OwnershipChange{
			ConversationID:       conversationID,
			HumanOwned:           true,
			AgentID:              agentID,
			AgentName:            agent.Name,
			KnowledgeBaseEnabled: takeover.KnowledgeBaseEnabled,
			ChangedAt:            takeover.AssignedAt,
		},
	})

	return takeover, nil
}

// HandBack transitions a conversation back to bot-owned. Only the owning
// agent can hand back; store.ErrNotFound covers both a missing takeover and
// an agent mismatch. Knowledge-base use resumes for subsequent bot turns
// because retrieval gating reads the takeover row, which no longer exists.
func (m *Machine) HandBack(ctx context.Context, conversationID, agentID string) error {
	takeover, err := m.store.GetTakeover(ctx, conversationID)
	if err != nil {
		return err
	}

	if err := m.store.DeleteTakeover(ctx, conversationID, agentID); err != nil {
		return err
	}

	m.logger.Info("agent handed conversation back",
		"conversation_id", conversationID,
		"agent_id", agentID)

	agentName := agentID
	if agent, err := m.store.GetAgent(ctx, agentID); err == nil {
		agentName = agent.Name
	}
	m.announce(ctx, conversationID, agentID,
		fmt.Sprintf("%s has handed the conversation back to the assistant.", agentName))

	m.bus.Publish(&bus.Event{
		ID:             takeover.ID + ":released",
		Kind:           bus.EventOwnership,
		ConversationID: conversationID,
		Ownership: &bus.OwnershipChange{
			ConversationID: conversationID,
			HumanOwned:     false,
			ChangedAt:      time.Now(),
		},
	})

	if m.resetter != nil {
		m.resetter.ResetConversation(conversationID)
	}
	return nil
}

// ToggleKnowledgeBase flips retrieval use on the live takeover and publishes
// the updated ownership state. store.ErrNotFound when the conversation is
// bot-owned.
func (m *Machine) ToggleKnowledgeBase(ctx context.Context, conversationID string, enabled bool) error {
	if err := m.store.SetKnowledgeBase(ctx, conversationID, enabled); err != nil {
		return err
	}

	takeover, err := m.store.GetTakeover(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("reading takeover after toggle: %w", err)
	}

	agentName := ""
	if agent, err := m.store.GetAgent(ctx, takeover.AgentID); err == nil {
		agentName = agent.Name
	}

	m.bus.Publish(&bus.Event{
		ID:             bus.OwnershipStateKey(takeover.ID, enabled),
		Kind:           bus.EventOwnership,
		ConversationID: conversationID,
		Ownership: &bus.OwnershipChange{
			ConversationID:       conversationID,
			HumanOwned:           true,
			AgentID:              takeover.AgentID,
			AgentName:            agentName,
			KnowledgeBaseEnabled: enabled,
			ChangedAt:            time.Now(),
		},
	})
	return nil
}

// announce persists a hand-off system message and publishes it. Persistence
// failures are logged, not propagated: the ownership transition already
// happened and must not be rolled back by a messaging hiccup.
func (m *Machine) announce(ctx context.Context, conversationID, agentID, content string) {
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Content:        content,
		Role:           store.RoleAgent,
		AgentID:        &agentID,
		CreatedAt:      time.Now(),
	}
	if err := m.store.SaveMessage(ctx, msg); err != nil {
		m.logger.Error("failed to save hand-off message",
			"conversation_id", conversationID,
			"error", err)
		return
	}

	m.bus.Publish(&bus.Event{
		ID:             msg.ID,
		Kind:           bus.EventMessage,
		ConversationID: conversationID,
		Message:        msg,
	})
}
