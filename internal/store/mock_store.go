// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	chatbots      map[string]*Chatbot
	agents        map[string]*Agent
	assignments   map[string]time.Time // "agentID|chatbotID" -> assigned_at
	conversations map[string]*Conversation
	messages      map[string][]*Message // keyed by conversation ID
	takeovers     map[string]*Takeover  // keyed by conversation ID
	notifications map[string]*Notification
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		chatbots:      make(map[string]*Chatbot),
		agents:        make(map[string]*Agent),
		assignments:   make(map[string]time.Time),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		takeovers:     make(map[string]*Takeover),
		notifications: make(map[string]*Notification),
	}
}

// CreateChatbot stores a new chatbot.
func (m *MockStore) CreateChatbot(ctx context.Context, bot *Chatbot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chatbots[bot.ID]; ok {
		return ErrConflict
	}
	b := *bot
	m.chatbots[b.ID] = &b
	return nil
}

// GetChatbot retrieves a chatbot by ID.
func (m *MockStore) GetChatbot(ctx context.Context, id string) (*Chatbot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bot, ok := m.chatbots[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *bot
	return &result, nil
}

// SetChatbotActive flips the activity flag.
func (m *MockStore) SetChatbotActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bot, ok := m.chatbots[id]
	if !ok {
		return ErrNotFound
	}
	bot.IsActive = active
	return nil
}

// CreateAgent stores a new agent.
func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[agent.ID]; ok {
		return ErrConflict
	}
	a := *agent
	m.agents[a.ID] = &a
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *agent
	return &result, nil
}

// AssignAgentToChatbot records an agent-chatbot assignment.
func (m *MockStore) AssignAgentToChatbot(ctx context.Context, agentID, chatbotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := agentID + "|" + chatbotID
	if _, ok := m.assignments[key]; ok {
		return ErrConflict
	}
	m.assignments[key] = time.Now()
	return nil
}

// ListAgentsForChatbot returns agents ordered by assignment time, then ID.
func (m *MockStore) ListAgentsForChatbot(ctx context.Context, chatbotID string) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type entry struct {
		agent      *Agent
		assignedAt time.Time
	}
	var entries []entry
	for key, assignedAt := range m.assignments {
		agentID, botID, ok := splitAssignmentKey(key)
		if !ok || botID != chatbotID {
			continue
		}
		if agent, exists := m.agents[agentID]; exists {
			a := *agent
			entries = append(entries, entry{agent: &a, assignedAt: assignedAt})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].assignedAt.Equal(entries[j].assignedAt) {
			return entries[i].assignedAt.Before(entries[j].assignedAt)
		}
		return entries[i].agent.ID < entries[j].agent.ID
	})

	agents := make([]*Agent, len(entries))
	for i, e := range entries {
		agents[i] = e.agent
	}
	return agents, nil
}

func splitAssignmentKey(key string) (agentID, chatbotID string, ok bool) {
	for i := range key {
		if key[i] == '|' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}

// EnsureConversation inserts the conversation if absent; an existing row is
// success, matching the SQLite conflict-is-success behavior.
func (m *MockStore) EnsureConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conv.ID]; ok {
		return nil
	}
	c := *conv
	m.conversations[c.ID] = &c
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *conv
	return &result, nil
}

// SaveMessage appends a message, enforcing conversation existence and
// chatbot activity like the SQLite store.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if bot, exists := m.chatbots[conv.ChatbotID]; exists && !bot.IsActive {
		return ErrBotInactive
	}

	msgCopy := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &msgCopy)
	conv.UpdatedAt = msg.CreatedAt
	return nil
}

// ListMessages returns messages ordered by created_at ascending.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	msgs := m.messages[conversationID]
	sorted := make([]*Message, len(msgs))
	for i, msg := range msgs {
		msgCopy := *msg
		sorted[i] = &msgCopy
	}
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	if len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	return sorted, nil
}

// CreateTakeover asserts human ownership; a live takeover is a conflict.
func (m *MockStore) CreateTakeover(ctx context.Context, t *Takeover) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.takeovers[t.ConversationID]; ok {
		return ErrConflict
	}
	tCopy := *t
	m.takeovers[t.ConversationID] = &tCopy
	return nil
}

// GetTakeover retrieves the live takeover for a conversation.
func (m *MockStore) GetTakeover(ctx context.Context, conversationID string) (*Takeover, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.takeovers[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	result := *t
	return &result, nil
}

// DeleteTakeover releases ownership when the agent matches.
func (m *MockStore) DeleteTakeover(ctx context.Context, conversationID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.takeovers[conversationID]
	if !ok || t.AgentID != agentID {
		return ErrNotFound
	}
	delete(m.takeovers, conversationID)
	return nil
}

// SetKnowledgeBase flips the flag on the live takeover.
func (m *MockStore) SetKnowledgeBase(ctx context.Context, conversationID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.takeovers[conversationID]
	if !ok {
		return ErrNotFound
	}
	t.KnowledgeBaseEnabled = enabled
	return nil
}

// CreateNotification stores a notification.
func (m *MockStore) CreateNotification(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	nCopy := *n
	m.notifications[n.ID] = &nCopy
	return nil
}

// ListNotificationsForAgent returns notifications newest first.
func (m *MockStore) ListNotificationsForAgent(ctx context.Context, agentID string, unreadOnly bool, limit int) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var result []*Notification
	for _, n := range m.notifications {
		if n.AgentID != agentID {
			continue
		}
		if unreadOnly && n.IsRead {
			continue
		}
		nCopy := *n
		result = append(result, &nCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// MarkNotificationRead flips the read flag.
func (m *MockStore) MarkNotificationRead(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok {
		return ErrNotFound
	}
	n.IsRead = true
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
