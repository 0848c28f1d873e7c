// ABOUTME: Tests for the gateway API client against a real in-process gateway
// ABOUTME: Covers request/response mapping and the store error taxonomy

package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaistahseen009/chatizia/internal/bus"
	"github.com/awaistahseen009/chatizia/internal/conversation"
	"github.com/awaistahseen009/chatizia/internal/gateway"
	"github.com/awaistahseen009/chatizia/internal/llm"
	"github.com/awaistahseen009/chatizia/internal/ownership"
	"github.com/awaistahseen009/chatizia/internal/store"
)

type stubResponder struct {
	reply string
}

func (f *stubResponder) Generate(ctx context.Context, history []llm.Turn, passages []string) (string, error) {
	return f.reply, nil
}

type testEnv struct {
	client      *Client
	store       *store.MockStore
	broadcaster *bus.Broadcaster
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ms := store.NewMockStore()
	require.NoError(t, ms.CreateChatbot(t.Context(), &store.Chatbot{
		ID: "bot-1", Name: "Support Bot", IsActive: true, CreatedAt: time.Now(),
	}))
	require.NoError(t, ms.CreateAgent(t.Context(), &store.Agent{ID: "agent-1", Name: "Alice", CreatedAt: time.Now()}))
	require.NoError(t, ms.AssignAgentToChatbot(t.Context(), "agent-1", "bot-1"))

	broadcaster := bus.NewBroadcaster(nil)
	t.Cleanup(broadcaster.Close)

	machine := ownership.New(ms, broadcaster, nil, nil)
	svc := conversation.New(ms, &stubResponder{reply: "happy to help"}, nil, nil, broadcaster, nil)

	srv := gateway.New(svc, machine, ms, broadcaster, 0, nil)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &testEnv{
		client:      New(ts.URL),
		store:       ms,
		broadcaster: broadcaster,
	}
}

func TestEnsureConversationAndSendMessage(t *testing.T) {
	env := newTestEnv(t)

	conv, err := env.client.EnsureConversation(t.Context(), "bot-1", "sess-1")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "bot-1", conv.ChatbotID)

	// Same pair resolves to the same conversation.
	again, err := env.client.EnsureConversation(t.Context(), "bot-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	reply, err := env.client.SendMessage(t.Context(), conv.ID, "hello")
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, "happy to help", reply.Content)
	assert.Equal(t, "assistant", reply.Role)

	messages, err := env.client.Messages(t.Context(), conv.ID, 50)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "customer", messages[0].Role)
	assert.Equal(t, "hello", messages[0].Content)
}

func TestErrorTaxonomyMapsToStoreSentinels(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.client.EnsureConversation(t.Context(), "no-such-bot", "sess-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = env.client.EnsureConversation(t.Context(), "bot-1", "")
	require.ErrorIs(t, err, store.ErrInvalid)

	_, err = env.client.SendMessage(t.Context(), "missing-conv", "hi")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestTakeoverLifecycle(t *testing.T) {
	env := newTestEnv(t)
	conv, err := env.client.EnsureConversation(t.Context(), "bot-1", "sess-1")
	require.NoError(t, err)

	state, err := env.client.Ownership(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.False(t, state.HumanOwned)
	assert.Empty(t, state.TakeoverID)

	state, err = env.client.TakeOver(t.Context(), conv.ID, "agent-1", "")
	require.NoError(t, err)
	assert.True(t, state.HumanOwned)
	assert.Equal(t, "Alice", state.AgentName)
	assert.True(t, state.KnowledgeBaseEnabled)
	assert.NotEmpty(t, state.TakeoverID)

	// Second claim conflicts.
	_, err = env.client.TakeOver(t.Context(), conv.ID, "agent-1", "")
	require.ErrorIs(t, err, store.ErrConflict)

	// Human owns the conversation, so the bot produces no reply.
	reply, err := env.client.SendMessage(t.Context(), conv.ID, "anyone there?")
	require.NoError(t, err)
	assert.Nil(t, reply)

	require.NoError(t, env.client.ToggleKnowledgeBase(t.Context(), conv.ID, false))
	state, err = env.client.Ownership(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.False(t, state.KnowledgeBaseEnabled)

	require.NoError(t, env.client.HandBack(t.Context(), conv.ID, "agent-1"))
	state, err = env.client.Ownership(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.False(t, state.HumanOwned)
}

func TestNotificationsFlow(t *testing.T) {
	env := newTestEnv(t)
	conv, err := env.client.EnsureConversation(t.Context(), "bot-1", "sess-1")
	require.NoError(t, err)

	require.NoError(t, env.client.RequestHuman(t.Context(), conv.ID))

	notifications, err := env.client.Notifications(t.Context(), "agent-1", true)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "manual_request", notifications[0].Type)
	assert.Equal(t, conv.ID, notifications[0].ConversationID)

	require.NoError(t, env.client.MarkNotificationRead(t.Context(), notifications[0].ID))

	notifications, err = env.client.Notifications(t.Context(), "agent-1", true)
	require.NoError(t, err)
	assert.Empty(t, notifications)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.client.Health(t.Context()))

	bad := New("http://127.0.0.1:1")
	require.Error(t, bad.Health(t.Context()))
}
