// ABOUTME: Event types carried by the conversation event bus
// ABOUTME: Message-appended and ownership-changed events, keyed by entity ID for dedupe

package bus

import (
	"time"

	"github.com/awaistahseen009/chatizia/internal/store"
)

// EventKind categorizes bus events.
type EventKind string

const (
	// EventMessage signals a message appended to a conversation.
	EventMessage EventKind = "message"
	// EventOwnership signals an ownership transition (takeover or hand-back).
	EventOwnership EventKind = "ownership"
)

// OwnershipChange describes the ownership state after a transition.
type OwnershipChange struct {
	ConversationID       string
	HumanOwned           bool
	AgentID              string // empty when HumanOwned is false
	AgentName            string
	KnowledgeBaseEnabled bool
	ChangedAt            time.Time
}

// OwnershipStateKey builds the entity ID for a human-owned ownership event.
// It folds in the knowledge-base flag so a toggle on the same takeover is a
// distinct observable state, while redeliveries of the same state collapse.
func OwnershipStateKey(takeoverID string, kbEnabled bool) string {
	if kbEnabled {
		return takeoverID + ":kb=on"
	}
	return takeoverID + ":kb=off"
}

// Event is a single bus delivery. Delivery is at-least-once with no ordering
// guarantee across kinds; ID identifies the underlying entity (message ID, or
// takeover ID suffixed for releases) so consumers can de-duplicate.
type Event struct {
	ID             string
	Kind           EventKind
	ConversationID string

	Message   *store.Message   // set when Kind == EventMessage
	Ownership *OwnershipChange // set when Kind == EventOwnership
}
