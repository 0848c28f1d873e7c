// ABOUTME: Server-sent event streaming of live conversation events
// ABOUTME: Widgets and dashboards both subscribe here for messages and ownership changes

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/awaistahseen009/chatizia/internal/bus"
)

// SSEEvent is one server-sent event before wire formatting. ID carries the
// bus event's entity ID so remote subscribers can de-duplicate.
type SSEEvent struct {
	ID    string
	Event string
	Data  any
}

// OwnershipEventData is the SSE payload for ownership changes.
type OwnershipEventData struct {
	ConversationID       string `json:"conversation_id"`
	HumanOwned           bool   `json:"human_owned"`
	AgentID              string `json:"agent_id,omitempty"`
	AgentName            string `json:"agent_name,omitempty"`
	KnowledgeBaseEnabled bool   `json:"knowledge_base_enabled"`
	ChangedAt            string `json:"changed_at"`
}

// reconcileReplayLimit bounds how many messages each reconciliation pass
// re-reads from the store.
const reconcileReplayLimit = 200

// handleEventStream handles GET /api/conversations/{id}/events.
// Streams message and ownership events as SSE until the client
// disconnects. Delivery is at-least-once; clients de-duplicate by
// event ID. Alongside the live feed, the handler periodically replays
// store state so messages dropped between publisher and subscriber
// still reach the stream; a per-connection seen set keeps the replay
// from repeating what already went out.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	if _, err := s.store.GetConversation(r.Context(), conversationID); err != nil {
		s.writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	events, unsubscribe, err := s.events.Subscribe(r.Context(), conversationID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	s.writeSSEEvent(w, "", "connected", map[string]string{"conversation_id": conversationID})
	flusher.Flush()

	ticker := time.NewTicker(s.reconcile)
	defer ticker.Stop()

	sentMessages := make(map[string]struct{})

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			sse := busEventToSSE(event)
			if sse == nil {
				continue
			}
			if event.Kind == bus.EventMessage {
				if _, sent := sentMessages[event.ID]; sent {
					continue
				}
				sentMessages[event.ID] = struct{}{}
			}
			s.writeSSEEvent(w, sse.ID, sse.Event, sse.Data)
			flusher.Flush()
		case <-ticker.C:
			s.replayMessages(r.Context(), w, flusher, conversationID, sentMessages)
		}
	}
}

// replayMessages writes any stored messages the stream has not carried yet.
func (s *Server) replayMessages(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, conversationID string, sentMessages map[string]struct{}) {
	messages, err := s.store.ListMessages(ctx, conversationID, reconcileReplayLimit)
	if err != nil {
		s.logger.Warn("sse reconcile fetch failed",
			"conversation_id", conversationID,
			"error", err)
		return
	}
	for _, msg := range messages {
		if _, sent := sentMessages[msg.ID]; sent {
			continue
		}
		sentMessages[msg.ID] = struct{}{}
		s.writeSSEEvent(w, msg.ID, "message", messageResponse(msg))
		flusher.Flush()
	}
}

// busEventToSSE converts a bus event to its SSE shape. Unknown kinds
// are skipped rather than streamed as noise.
func busEventToSSE(event *bus.Event) *SSEEvent {
	switch event.Kind {
	case bus.EventMessage:
		if event.Message == nil {
			return nil
		}
		return &SSEEvent{ID: event.ID, Event: "message", Data: messageResponse(event.Message)}
	case bus.EventOwnership:
		if event.Ownership == nil {
			return nil
		}
		return &SSEEvent{ID: event.ID, Event: "ownership", Data: OwnershipEventData{
			ConversationID:       event.ConversationID,
			HumanOwned:           event.Ownership.HumanOwned,
			AgentID:              event.Ownership.AgentID,
			AgentName:            event.Ownership.AgentName,
			KnowledgeBaseEnabled: event.Ownership.KnowledgeBaseEnabled,
			ChangedAt:            event.Ownership.ChangedAt.Format(time.RFC3339),
		}}
	default:
		return nil
	}
}

// writeSSEEvent writes one event in the standard SSE wire format:
// id: <entity id>\nevent: <name>\ndata: <json>\n\n
func (s *Server) writeSSEEvent(w http.ResponseWriter, id, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
