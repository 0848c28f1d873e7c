// Package store provides persistent storage for chatizia using SQLite.
//
// The store holds the durable records of the hand-off coordinator:
//
//   - Chatbot: a configured bot with an activity flag and knowledge-base flag
//   - Agent: a human agent, assignable to chatbots
//   - Conversation: one thread per (chatbot, session) pair, derived ID
//   - Message: immutable, ordered by creation timestamp
//   - Takeover: the at-most-one live human-ownership row per conversation
//   - Notification: agent alerts (escalation, new message, manual request)
//
// Concurrency control is conflict-on-insert: the UNIQUE constraints on
// conversations(chatbot_id, session_id) and takeovers(conversation_id) are
// the authoritative exclusion mechanism. Callers never pre-check-then-act.
//
// Common errors: ErrNotFound, ErrConflict, ErrBotInactive.
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") for
// integration tests with real SQLite.
package store
