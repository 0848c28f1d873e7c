// ABOUTME: Deterministic conversation ID derivation from (chatbot, session) pairs
// ABOUTME: UUIDv5 under a fixed namespace so independent callers converge without coordination

package identity

import (
	"github.com/google/uuid"
)

// conversationNamespace is the fixed UUIDv5 namespace for conversation IDs.
// Changing it would split every existing conversation, so it never changes.
var conversationNamespace = uuid.MustParse("8f3c1d6a-52e4-4c7b-9b2f-0d94a1c3e7b5")

// ConversationID derives the conversation identifier for a (chatbot, session)
// pair. It is a pure function: the widget, the agent console, and the server
// all compute the same 128-bit value, so concurrent creators converge on one
// row instead of racing to invent separate IDs.
//
// The separator keeps (ab, c) and (a, bc) from colliding. Callers must reject
// empty session identifiers before calling; the deriver does not synthesize
// sessions.
func ConversationID(chatbotID, sessionID string) uuid.UUID {
	return uuid.NewSHA1(conversationNamespace, []byte(chatbotID+"\x00"+sessionID))
}
