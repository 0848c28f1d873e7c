// ABOUTME: Store interface and data types for chatizia persistence
// ABOUTME: Defines Chatbot, Conversation, Message, Takeover, Notification and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with a live row:
// a second takeover for a conversation, or a duplicate agent-chatbot
// assignment. Conflict-on-insert is the concurrency control for ownership;
// there is no separate lock.
var ErrConflict = errors.New("already exists")

// ErrInvalid is returned for malformed input, such as an empty session
// identifier or blank message text.
var ErrInvalid = errors.New("invalid input")

// ErrBotInactive is returned when writing to a conversation whose chatbot
// has been deactivated. No further automated or human interaction is
// permitted on such conversations.
var ErrBotInactive = errors.New("chatbot is inactive")

// Chatbot represents a configured bot that owns conversations.
type Chatbot struct {
	ID               string
	Name             string
	IsActive         bool
	HasKnowledgeBase bool
	CreatedAt        time.Time
}

// Agent represents a human agent who can take over conversations.
type Agent struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Role identifies the author of a message.
type Role string

const (
	RoleCustomer  Role = "customer"  // inbound customer text
	RoleAssistant Role = "assistant" // automated responder
	RoleAgent     Role = "agent"     // human agent (including system hand-off notices)
)

// Conversation is the thread between one customer session and one chatbot.
// The ID is derived from (chatbot_id, session_id), so concurrent creators
// converge on the same row.
type Conversation struct {
	ID        string
	ChatbotID string
	SessionID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single immutable message within a conversation, ordered by
// CreatedAt. AgentID is set only for human-agent messages.
type Message struct {
	ID             string
	ConversationID string
	Content        string
	Role           Role
	AgentID        *string
	CreatedAt      time.Time
}

// Takeover records that a human agent currently owns a conversation.
// At most one live row exists per conversation; its presence is the sole
// source of truth for "is a human handling this".
type Takeover struct {
	ID                   string
	ConversationID       string
	AgentID              string
	KnowledgeBaseEnabled bool
	AssignedAt           time.Time
}

// NotificationType categorizes agent notifications.
type NotificationType string

const (
	NotificationEscalation    NotificationType = "escalation"
	NotificationNewMessage    NotificationType = "new_message"
	NotificationManualRequest NotificationType = "manual_request"
)

// Notification is an agent-facing alert. Only the read flag is ever mutated;
// retention is an external concern.
type Notification struct {
	ID             string
	AgentID        string
	ConversationID string
	Type           NotificationType
	Message        string
	IsRead         bool
	ChatbotName    string
	CreatedAt      time.Time
}

// Store defines the interface for conversation persistence.
type Store interface {
	// Chatbots
	CreateChatbot(ctx context.Context, bot *Chatbot) error
	GetChatbot(ctx context.Context, id string) (*Chatbot, error)
	SetChatbotActive(ctx context.Context, id string, active bool) error

	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	// AssignAgentToChatbot makes the agent eligible for the chatbot's
	// conversations. Returns ErrConflict if the pair already exists.
	AssignAgentToChatbot(ctx context.Context, agentID, chatbotID string) error
	// ListAgentsForChatbot returns agents ordered by assignment time, then
	// agent ID. The order is the escalation pick order, so it must be stable.
	ListAgentsForChatbot(ctx context.Context, chatbotID string) ([]*Agent, error)

	// Conversations
	// EnsureConversation inserts the conversation if absent. A primary-key
	// or unique-index conflict means another caller created it first and is
	// treated as success, not failure.
	EnsureConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// Messages
	// SaveMessage appends a message. Returns ErrNotFound if the conversation
	// does not exist and ErrBotInactive if its chatbot is deactivated.
	SaveMessage(ctx context.Context, msg *Message) error
	// ListMessages returns messages ordered by created_at ascending.
	// Creation-timestamp order is authoritative; callers must never trust
	// delivery order instead.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Takeovers
	// CreateTakeover asserts human ownership. Returns ErrConflict when a
	// live takeover already exists for the conversation.
	CreateTakeover(ctx context.Context, t *Takeover) error
	GetTakeover(ctx context.Context, conversationID string) (*Takeover, error)
	// DeleteTakeover releases ownership. Returns ErrNotFound when no
	// takeover exists or the agent is not the current owner.
	DeleteTakeover(ctx context.Context, conversationID, agentID string) error
	// SetKnowledgeBase flips the flag on the live takeover only.
	SetKnowledgeBase(ctx context.Context, conversationID string, enabled bool) error

	// Notifications
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotificationsForAgent(ctx context.Context, agentID string, unreadOnly bool, limit int) ([]*Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error

	// Close releases any resources held by the store
	Close() error
}
