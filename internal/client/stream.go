// ABOUTME: Remote event transport over the gateway's SSE stream
// ABOUTME: Implements the bus Transport and StateFetcher contracts for clients

package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/awaistahseen009/chatizia/internal/bus"
	"github.com/awaistahseen009/chatizia/internal/store"
)

// subscriberBuffer bounds the per-subscription event channel. The stream
// reader drops the connection rather than block forever on a stalled
// consumer.
const subscriberBuffer = 64

var (
	_ bus.Transport    = (*Client)(nil)
	_ bus.StateFetcher = (*Client)(nil)
)

// Subscribe opens the conversation's SSE stream and converts it back into
// bus events. The returned channel closes when the stream drops for any
// reason, which signals the subscription manager to reconnect. This makes
// *Client a bus.Transport.
func (c *Client) Subscribe(ctx context.Context, conversationID string) (<-chan *bus.Event, func(), error) {
	streamCtx, cancel := context.WithCancel(ctx)

	path := "/api/conversations/" + url.PathEscape(conversationID) + "/events"
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream stays open indefinitely, so the configured request timeout
	// must not apply here.
	streamClient := &http.Client{Transport: c.http.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("opening event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, nil, apiError(resp)
	}

	events := make(chan *bus.Event, subscriberBuffer)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		c.readStream(streamCtx, conversationID, resp.Body, events)
	}()

	return events, cancel, nil
}

// readStream parses the SSE wire format line by line and emits one bus
// event per complete id/event/data block.
func (c *Client) readStream(ctx context.Context, conversationID string, body io.Reader, events chan<- *bus.Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var id, event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if event != "" {
				if busEvent := decodeStreamEvent(id, event, data, conversationID); busEvent != nil {
					select {
					case events <- busEvent:
					case <-ctx.Done():
						return
					}
				}
			}
			id, event, data = "", "", ""
		}
	}
}

// ownershipEventData mirrors the gateway's SSE ownership payload.
type ownershipEventData struct {
	ConversationID       string `json:"conversation_id"`
	HumanOwned           bool   `json:"human_owned"`
	AgentID              string `json:"agent_id,omitempty"`
	AgentName            string `json:"agent_name,omitempty"`
	KnowledgeBaseEnabled bool   `json:"knowledge_base_enabled"`
	ChangedAt            string `json:"changed_at"`
}

// decodeStreamEvent rebuilds a bus event from its SSE representation.
// The "connected" handshake and unknown event names are skipped.
func decodeStreamEvent(id, event, data, conversationID string) *bus.Event {
	switch event {
	case "message":
		var msg Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			return nil
		}
		stored := &store.Message{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			Content:        msg.Content,
			Role:           store.Role(msg.Role),
		}
		if msg.AgentID != "" {
			agentID := msg.AgentID
			stored.AgentID = &agentID
		}
		if created, err := time.Parse(time.RFC3339, msg.CreatedAt); err == nil {
			stored.CreatedAt = created
		}
		return &bus.Event{
			ID:             msg.ID,
			Kind:           bus.EventMessage,
			ConversationID: conversationID,
			Message:        stored,
		}
	case "ownership":
		var payload ownershipEventData
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return nil
		}
		change := &bus.OwnershipChange{
			ConversationID:       conversationID,
			HumanOwned:           payload.HumanOwned,
			AgentID:              payload.AgentID,
			AgentName:            payload.AgentName,
			KnowledgeBaseEnabled: payload.KnowledgeBaseEnabled,
		}
		if changed, err := time.Parse(time.RFC3339, payload.ChangedAt); err == nil {
			change.ChangedAt = changed
		}
		return &bus.Event{
			ID:             id,
			Kind:           bus.EventOwnership,
			ConversationID: conversationID,
			Ownership:      change,
		}
	default:
		return nil
	}
}

// ListMessages fetches recent messages as store records, satisfying the
// bus.StateFetcher contract for poll reconciliation.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	messages, err := c.Messages(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	records := make([]*store.Message, 0, len(messages))
	for _, msg := range messages {
		record := &store.Message{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			Content:        msg.Content,
			Role:           store.Role(msg.Role),
		}
		if msg.AgentID != "" {
			agentID := msg.AgentID
			record.AgentID = &agentID
		}
		if created, err := time.Parse(time.RFC3339, msg.CreatedAt); err == nil {
			record.CreatedAt = created
		}
		records = append(records, record)
	}
	return records, nil
}

// GetTakeover reports the live takeover from the ownership endpoint,
// returning store.ErrNotFound while the conversation is bot-owned. Together
// with ListMessages this makes *Client a bus.StateFetcher.
func (c *Client) GetTakeover(ctx context.Context, conversationID string) (*store.Takeover, error) {
	state, err := c.Ownership(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !state.HumanOwned {
		return nil, fmt.Errorf("%w: no takeover for conversation %s", store.ErrNotFound, conversationID)
	}
	return &store.Takeover{
		ID:                   state.TakeoverID,
		ConversationID:       conversationID,
		AgentID:              state.AgentID,
		KnowledgeBaseEnabled: state.KnowledgeBaseEnabled,
	}, nil
}
