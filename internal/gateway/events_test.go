// ABOUTME: Tests for the SSE event stream endpoint
// ABOUTME: Reads the live stream while publishing through the broadcaster

package gateway

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaistahseen009/chatizia/internal/bus"
	"github.com/awaistahseen009/chatizia/internal/store"
)

// readSSEEvent reads one "event:" / "data:" pair from the stream.
func readSSEEvent(t *testing.T, scanner *bufio.Scanner) (string, string) {
	t.Helper()
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
	t.Fatal("stream ended before a full SSE event")
	return "", ""
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, &stubResponder{reply: "hi"})
	convID := env.ensureConversation(t)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/api/conversations/"+convID+"/events", nil)
	require.NoError(t, err)
	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)

	event, data := readSSEEvent(t, scanner)
	assert.Equal(t, "connected", event)
	assert.Contains(t, data, convID)

	env.broadcaster.Publish(&bus.Event{
		ID:             "msg-1",
		Kind:           bus.EventMessage,
		ConversationID: convID,
		Message: &store.Message{
			ID: "msg-1", ConversationID: convID,
			Role: store.RoleCustomer, Content: "hello", CreatedAt: time.Now(),
		},
	})

	event, data = readSSEEvent(t, scanner)
	assert.Equal(t, "message", event)
	assert.Contains(t, data, `"content":"hello"`)

	env.broadcaster.Publish(&bus.Event{
		ID:             "own-1",
		Kind:           bus.EventOwnership,
		ConversationID: convID,
		Ownership: &bus.OwnershipChange{
			ConversationID: convID,
			HumanOwned:     true,
			AgentID:        "agent-1",
			AgentName:      "Alice",
			ChangedAt:      time.Now(),
		},
	})

	event, data = readSSEEvent(t, scanner)
	assert.Equal(t, "ownership", event)
	assert.Contains(t, data, `"human_owned":true`)
	assert.Contains(t, data, `"agent_name":"Alice"`)
}

func TestEventStream_UnknownConversation(t *testing.T) {
	env := newTestEnv(t, &stubResponder{reply: "hi"})

	resp, err := env.server.Client().Get(env.server.URL + "/api/conversations/conv-missing/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventStream_EventsScopedToConversation(t *testing.T) {
	env := newTestEnv(t, &stubResponder{reply: "hi"})
	convID := env.ensureConversation(t)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/api/conversations/"+convID+"/events", nil)
	require.NoError(t, err)
	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	readSSEEvent(t, scanner) // connected

	// Event for a different conversation never reaches this stream.
	env.broadcaster.Publish(&bus.Event{
		ID:             "other-1",
		Kind:           bus.EventMessage,
		ConversationID: "conv-other",
		Message: &store.Message{
			ID: "other-1", ConversationID: "conv-other",
			Role: store.RoleCustomer, Content: "wrong room", CreatedAt: time.Now(),
		},
	})
	env.broadcaster.Publish(&bus.Event{
		ID:             "msg-2",
		Kind:           bus.EventMessage,
		ConversationID: convID,
		Message: &store.Message{
			ID: "msg-2", ConversationID: convID,
			Role: store.RoleCustomer, Content: "right room", CreatedAt: time.Now(),
		},
	})

	event, data := readSSEEvent(t, scanner)
	assert.Equal(t, "message", event)
	assert.Contains(t, data, "right room")
	assert.NotContains(t, data, "wrong room")
}

func TestEventStream_ReplaysStoredMessages(t *testing.T) {
	env := newTestEnvReconcile(t, &stubResponder{reply: "hi"}, 30*time.Millisecond)
	convID := env.ensureConversation(t)

	// Persisted before anyone subscribes, so only reconciliation can
	// deliver it.
	require.NoError(t, env.store.SaveMessage(t.Context(), &store.Message{
		ID: "missed-1", ConversationID: convID,
		Role: store.RoleCustomer, Content: "sent while offline", CreatedAt: time.Now(),
	}))

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/api/conversations/"+convID+"/events", nil)
	require.NoError(t, err)
	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	readSSEEvent(t, scanner) // connected

	event, data := readSSEEvent(t, scanner)
	assert.Equal(t, "message", event)
	assert.Contains(t, data, "sent while offline")
}

func TestEventStream_ReplayDoesNotDuplicateLiveMessages(t *testing.T) {
	env := newTestEnvReconcile(t, &stubResponder{reply: "hi"}, 30*time.Millisecond)
	convID := env.ensureConversation(t)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/api/conversations/"+convID+"/events", nil)
	require.NoError(t, err)
	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	readSSEEvent(t, scanner) // connected

	msg := &store.Message{
		ID: "live-1", ConversationID: convID,
		Role: store.RoleCustomer, Content: "seen live", CreatedAt: time.Now(),
	}
	require.NoError(t, env.store.SaveMessage(t.Context(), msg))
	env.broadcaster.Publish(&bus.Event{
		ID: msg.ID, Kind: bus.EventMessage, ConversationID: convID, Message: msg,
	})

	event, data := readSSEEvent(t, scanner)
	assert.Equal(t, "message", event)
	assert.Contains(t, data, "seen live")

	// Several reconcile ticks pass; the next frame on the stream must be a
	// new message, not a replay of live-1.
	time.Sleep(100 * time.Millisecond)
	second := &store.Message{
		ID: "live-2", ConversationID: convID,
		Role: store.RoleAssistant, Content: "fresh", CreatedAt: time.Now(),
	}
	require.NoError(t, env.store.SaveMessage(t.Context(), second))

	event, data = readSSEEvent(t, scanner)
	assert.Equal(t, "message", event)
	assert.Contains(t, data, "fresh")
	assert.NotContains(t, data, "seen live")
}
