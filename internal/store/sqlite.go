// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Conflict-on-insert from UNIQUE constraints is the ownership concurrency control

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chatbots (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			has_knowledge_base INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS agent_chatbots (
			agent_id TEXT NOT NULL REFERENCES agents(id),
			chatbot_id TEXT NOT NULL REFERENCES chatbots(id),
			assigned_at TEXT NOT NULL,
			PRIMARY KEY (agent_id, chatbot_id)
		);

		CREATE INDEX IF NOT EXISTS idx_agent_chatbots_chatbot
			ON agent_chatbots(chatbot_id, assigned_at);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			chatbot_id TEXT NOT NULL REFERENCES chatbots(id),
			session_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_bot_session
			ON conversations(chatbot_id, session_id);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			content TEXT NOT NULL,
			role TEXT NOT NULL,
			agent_id TEXT,
			created_at TEXT NOT NULL,

			CHECK (role IN ('customer', 'assistant', 'agent'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS takeovers (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL UNIQUE REFERENCES conversations(id),
			agent_id TEXT NOT NULL REFERENCES agents(id),
			knowledge_base_enabled INTEGER NOT NULL DEFAULT 0,
			assigned_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_takeovers_agent ON takeovers(agent_id);

		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(id),
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			type TEXT NOT NULL,
			message TEXT NOT NULL,
			is_read INTEGER NOT NULL DEFAULT 0,
			chatbot_name TEXT,
			created_at TEXT NOT NULL,

			CHECK (type IN ('escalation', 'new_message', 'manual_request'))
		);

		CREATE INDEX IF NOT EXISTS idx_notifications_agent
			ON notifications(agent_id, is_read, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// Timestamps are stored as RFC3339Nano so message order within a second is
// preserved; creation-timestamp order is the authoritative message order.
const timeFormat = time.RFC3339Nano

// CreateChatbot inserts a new chatbot.
func (s *SQLiteStore) CreateChatbot(ctx context.Context, bot *Chatbot) error {
	query := `
		INSERT INTO chatbots (id, name, is_active, has_knowledge_base, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		bot.ID,
		bot.Name,
		bot.IsActive,
		bot.HasKnowledgeBase,
		bot.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting chatbot: %w", err)
	}

	s.logger.Debug("created chatbot", "id", bot.ID, "name", bot.Name)
	return nil
}

// GetChatbot retrieves a chatbot by ID. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetChatbot(ctx context.Context, id string) (*Chatbot, error) {
	query := `
		SELECT id, name, is_active, has_knowledge_base, created_at
		FROM chatbots
		WHERE id = ?
	`

	var bot Chatbot
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&bot.ID,
		&bot.Name,
		&bot.IsActive,
		&bot.HasKnowledgeBase,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying chatbot: %w", err)
	}

	bot.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &bot, nil
}

// SetChatbotActive flips the activity flag. Returns ErrNotFound if absent.
func (s *SQLiteStore) SetChatbotActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chatbots SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("updating chatbot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAgent inserts a new agent.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	query := `INSERT INTO agents (id, name, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		agent.ID,
		agent.Name,
		agent.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var agent Agent
	var createdAtStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM agents WHERE id = ?`, id).Scan(
		&agent.ID,
		&agent.Name,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}

	agent.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &agent, nil
}

// AssignAgentToChatbot makes the agent eligible for the chatbot's
// conversations. Returns ErrConflict if the assignment already exists.
func (s *SQLiteStore) AssignAgentToChatbot(ctx context.Context, agentID, chatbotID string) error {
	query := `INSERT INTO agent_chatbots (agent_id, chatbot_id, assigned_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, agentID, chatbotID, time.Now().UTC().Format(timeFormat))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting agent assignment: %w", err)
	}

	s.logger.Debug("assigned agent to chatbot", "agent_id", agentID, "chatbot_id", chatbotID)
	return nil
}

// ListAgentsForChatbot returns agents ordered by assignment time, then agent
// ID. This is the deterministic escalation pick order.
func (s *SQLiteStore) ListAgentsForChatbot(ctx context.Context, chatbotID string) ([]*Agent, error) {
	query := `
		SELECT a.id, a.name, a.created_at
		FROM agents a
		JOIN agent_chatbots ac ON ac.agent_id = a.id
		WHERE ac.chatbot_id = ?
		ORDER BY ac.assigned_at ASC, a.id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		var agent Agent
		var createdAtStr string
		if err := rows.Scan(&agent.ID, &agent.Name, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agent.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		agents = append(agents, &agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return agents, nil
}

// EnsureConversation inserts the conversation if absent. The ID is derived
// from (chatbot_id, session_id), so a concurrent insert hits the primary key
// and is treated as success: another caller won the race to the same row.
func (s *SQLiteStore) EnsureConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, chatbot_id, session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.ChatbotID,
		conv.SessionID,
		conv.CreatedAt.UTC().Format(timeFormat),
		conv.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			s.logger.Debug("conversation already exists", "id", conv.ID)
			return nil
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation",
		"id", conv.ID,
		"chatbot_id", conv.ChatbotID,
		"session_id", conv.SessionID)
	return nil
}

// GetConversation retrieves a conversation by ID. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, chatbot_id, session_id, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	var conv Conversation
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID,
		&conv.ChatbotID,
		&conv.SessionID,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(timeFormat, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

// SaveMessage appends a message to a conversation. Returns ErrNotFound if the
// conversation does not exist and ErrBotInactive if its chatbot is
// deactivated. Also bumps the conversation's updated_at.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	var isActive bool
	err := s.db.QueryRowContext(ctx, `
		SELECT b.is_active
		FROM conversations c
		JOIN chatbots b ON b.id = c.chatbot_id
		WHERE c.id = ?
	`, msg.ConversationID).Scan(&isActive)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}
	if !isActive {
		return ErrBotInactive
	}

	query := `
		INSERT INTO messages (id, conversation_id, content, role, agent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Content,
		string(msg.Role),
		msg.AgentID,
		msg.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		msg.CreatedAt.UTC().Format(timeFormat), msg.ConversationID); err != nil {
		return fmt.Errorf("updating conversation timestamp: %w", err)
	}

	s.logger.Debug("saved message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"role", msg.Role)
	return nil
}

// ListMessages returns messages ordered by created_at ascending, then ID for
// a deterministic tie-break.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT id, conversation_id, content, role, agent_id, created_at
		FROM (
			SELECT id, conversation_id, content, role, agent_id, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var role, createdAtStr string
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Content,
			&role,
			&msg.AgentID,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.Role = Role(role)
		msg.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// CreateTakeover asserts human ownership of a conversation. The UNIQUE
// constraint on conversation_id enforces at-most-one-human-owner; hitting it
// returns ErrConflict so a second agent must wait for hand-back.
func (s *SQLiteStore) CreateTakeover(ctx context.Context, t *Takeover) error {
	query := `
		INSERT INTO takeovers (id, conversation_id, agent_id, knowledge_base_enabled, assigned_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID,
		t.ConversationID,
		t.AgentID,
		t.KnowledgeBaseEnabled,
		t.AssignedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting takeover: %w", err)
	}

	s.logger.Debug("created takeover",
		"conversation_id", t.ConversationID,
		"agent_id", t.AgentID,
		"knowledge_base_enabled", t.KnowledgeBaseEnabled)
	return nil
}

// GetTakeover retrieves the live takeover for a conversation.
// Returns ErrNotFound when the conversation is bot-owned.
func (s *SQLiteStore) GetTakeover(ctx context.Context, conversationID string) (*Takeover, error) {
	query := `
		SELECT id, conversation_id, agent_id, knowledge_base_enabled, assigned_at
		FROM takeovers
		WHERE conversation_id = ?
	`

	var t Takeover
	var assignedAtStr string

	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&t.ID,
		&t.ConversationID,
		&t.AgentID,
		&t.KnowledgeBaseEnabled,
		&assignedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying takeover: %w", err)
	}

	t.AssignedAt, err = time.Parse(timeFormat, assignedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing assigned_at: %w", err)
	}
	return &t, nil
}

// DeleteTakeover releases ownership. The agent_id predicate keeps an agent
// from releasing someone else's takeover; zero rows affected is ErrNotFound.
func (s *SQLiteStore) DeleteTakeover(ctx context.Context, conversationID, agentID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM takeovers WHERE conversation_id = ? AND agent_id = ?`,
		conversationID, agentID)
	if err != nil {
		return fmt.Errorf("deleting takeover: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted takeover", "conversation_id", conversationID, "agent_id", agentID)
	return nil
}

// SetKnowledgeBase flips the knowledge-base flag on the live takeover.
// Returns ErrNotFound when no takeover exists for the conversation.
func (s *SQLiteStore) SetKnowledgeBase(ctx context.Context, conversationID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE takeovers SET knowledge_base_enabled = ? WHERE conversation_id = ?`,
		enabled, conversationID)
	if err != nil {
		return fmt.Errorf("updating takeover: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateNotification inserts an agent notification.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (id, agent_id, conversation_id, type, message, is_read, chatbot_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		n.ID,
		n.AgentID,
		n.ConversationID,
		string(n.Type),
		n.Message,
		n.IsRead,
		n.ChatbotName,
		n.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}

	s.logger.Debug("created notification",
		"id", n.ID,
		"agent_id", n.AgentID,
		"type", n.Type)
	return nil
}

// ListNotificationsForAgent returns notifications newest first.
func (s *SQLiteStore) ListNotificationsForAgent(ctx context.Context, agentID string, unreadOnly bool, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT id, agent_id, conversation_id, type, message, is_read, chatbot_name, created_at
		FROM notifications
		WHERE agent_id = ?
	`
	args := []any{agentID}
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var n Notification
		var nType, createdAtStr string
		var chatbotName sql.NullString
		if err := rows.Scan(
			&n.ID,
			&n.AgentID,
			&n.ConversationID,
			&nType,
			&n.Message,
			&n.IsRead,
			&chatbotName,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning notification row: %w", err)
		}
		n.Type = NotificationType(nType)
		n.ChatbotName = chatbotName.String
		n.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notification rows: %w", err)
	}
	return notifications, nil
}

// MarkNotificationRead flips the read flag. Returns ErrNotFound if absent.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("updating notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
