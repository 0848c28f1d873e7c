// ABOUTME: Tests for SubscriptionManager dedupe, reconnect, and reconciliation
// ABOUTME: Uses a controllable fake transport and the in-memory mock store

package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaistahseen009/chatizia/internal/store"
)

// fakeTransport simulates a push transport whose connections can fail or drop.
type fakeTransport struct {
	mu             sync.Mutex
	subscribeCalls int
	failSubscribe  bool
	subs           []*fakeSub
}

type fakeSub struct {
	ch     chan *Event
	closed bool
}

func (f *fakeTransport) Subscribe(ctx context.Context, conversationID string) (<-chan *Event, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscribeCalls++
	if f.failSubscribe {
		return nil, nil, errors.New("transport down")
	}
	sub := &fakeSub{ch: make(chan *Event, 16)}
	f.subs = append(f.subs, sub)

	// Mirror the real broadcaster: the channel closes when ctx is cancelled
	go func() {
		<-ctx.Done()
		f.closeSub(sub)
	}()

	return sub.ch, func() { f.closeSub(sub) }, nil
}

func (f *fakeTransport) closeSub(sub *fakeSub) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

func (f *fakeTransport) publish(event *Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if !sub.closed {
			sub.ch <- event
		}
	}
}

// drop closes every open channel, simulating a transport disconnect.
func (f *fakeTransport) drop() {
	f.mu.Lock()
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()
	for _, sub := range subs {
		f.closeSub(sub)
	}
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCalls
}

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, sub := range f.subs {
		if !sub.closed {
			n++
		}
	}
	return n
}

// recorder collects handler callbacks for assertions.
type recorder struct {
	mu        sync.Mutex
	messages  []*store.Message
	ownership []*OwnershipChange
	statuses  []Status
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnMessage: func(msg *store.Message) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.messages = append(r.messages, msg)
		},
		OnOwnershipChange: func(change *OwnershipChange) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ownership = append(r.ownership, change)
		},
		OnStatus: func(s Status) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, s)
		},
	}
}

func (r *recorder) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *recorder) ownershipCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ownership)
}

func (r *recorder) sawStatus(want Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.statuses {
		if s == want {
			return true
		}
	}
	return false
}

func seededMockStore(t *testing.T) *store.MockStore {
	t.Helper()
	ms := store.NewMockStore()
	require.NoError(t, ms.CreateChatbot(t.Context(), &store.Chatbot{
		ID:        "bot-1",
		Name:      "Support Bot",
		IsActive:  true,
		CreatedAt: time.Now(),
	}))
	now := time.Now()
	require.NoError(t, ms.EnsureConversation(t.Context(), &store.Conversation{
		ID:        "conv-1",
		ChatbotID: "bot-1",
		SessionID: "sess-1",
		CreatedAt: now,
		UpdatedAt: now,
	}))
	return ms
}

func TestManager_DuplicateEventsCollapsed(t *testing.T) {
	transport := &fakeTransport{}
	ms := seededMockStore(t)
	m := NewSubscriptionManager(transport, ms, time.Hour, nil)
	defer m.Close()

	rec := &recorder{}
	unsub, err := m.Subscribe(t.Context(), "conv-1", "widget", rec.handlers())
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool { return transport.calls() >= 1 }, time.Second, 10*time.Millisecond)

	event := makeMessageEvent("msg-1", "conv-1")
	transport.publish(event)
	transport.publish(event) // redelivery

	require.Eventually(t, func() bool { return rec.messageCount() >= 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.messageCount(), "duplicate delivery must collapse to one observation")
}

func TestManager_IdempotentSubscribe(t *testing.T) {
	transport := &fakeTransport{}
	ms := seededMockStore(t)
	m := NewSubscriptionManager(transport, ms, time.Hour, nil)
	defer m.Close()

	rec := &recorder{}
	unsub1, err := m.Subscribe(t.Context(), "conv-1", "widget", rec.handlers())
	require.NoError(t, err)
	defer unsub1()

	require.Eventually(t, func() bool { return transport.calls() == 1 }, time.Second, 10*time.Millisecond)

	// Same logical owner subscribing again must not open a second channel
	unsub2, err := m.Subscribe(t.Context(), "conv-1", "widget", rec.handlers())
	require.NoError(t, err)
	defer unsub2()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, transport.calls())
}

func TestManager_IndependentOwnersIndependentCallbacks(t *testing.T) {
	transport := &fakeTransport{}
	ms := seededMockStore(t)
	m := NewSubscriptionManager(transport, ms, time.Hour, nil)
	defer m.Close()

	widget := &recorder{}
	dashboard := &recorder{}

	unsubWidget, err := m.Subscribe(t.Context(), "conv-1", "widget", widget.handlers())
	require.NoError(t, err)
	_, err = m.Subscribe(t.Context(), "conv-1", "dashboard", dashboard.handlers())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return transport.calls() >= 2 }, time.Second, 10*time.Millisecond)

	// Unsubscribing the widget must not affect the dashboard
	unsubWidget()
	require.Eventually(t, func() bool { return transport.openCount() == 1 }, time.Second, 10*time.Millisecond)
	transport.publish(makeMessageEvent("msg-2", "conv-1"))

	require.Eventually(t, func() bool { return dashboard.messageCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, widget.messageCount())
}

func TestManager_OwnershipTransitionsCollapse(t *testing.T) {
	transport := &fakeTransport{}
	ms := seededMockStore(t)
	m := NewSubscriptionManager(transport, ms, time.Hour, nil)
	defer m.Close()

	rec := &recorder{}
	unsub, err := m.Subscribe(t.Context(), "conv-1", "widget", rec.handlers())
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool { return transport.calls() >= 1 }, time.Second, 10*time.Millisecond)

	takeover := &Event{
		ID:             "takeover-1",
		Kind:           EventOwnership,
		ConversationID: "conv-1",
		Ownership: &OwnershipChange{
			ConversationID: "conv-1",
			HumanOwned:     true,
			AgentID:        "agent-1",
			AgentName:      "Alice",
			ChangedAt:      time.Now(),
		},
	}
	transport.publish(takeover)
	transport.publish(takeover) // duplicate delivery

	require.Eventually(t, func() bool { return rec.ownershipCount() >= 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.ownershipCount())

	handback := &Event{
		ID:             "takeover-1:released",
		Kind:           EventOwnership,
		ConversationID: "conv-1",
		Ownership: &OwnershipChange{
			ConversationID: "conv-1",
			HumanOwned:     false,
			ChangedAt:      time.Now(),
		},
	}
	transport.publish(handback)

	require.Eventually(t, func() bool { return rec.ownershipCount() == 2 }, time.Second, 10*time.Millisecond)
}

func TestManager_DegradedPathDeliversViaReconciliation(t *testing.T) {
	transport := &fakeTransport{failSubscribe: true}
	ms := seededMockStore(t)
	m := NewSubscriptionManager(transport, ms, 20*time.Millisecond, nil)
	defer m.Close()

	require.NoError(t, ms.SaveMessage(t.Context(), &store.Message{
		ID:             "missed-1",
		ConversationID: "conv-1",
		Content:        "sent while transport was down",
		Role:           store.RoleCustomer,
		CreatedAt:      time.Now(),
	}))

	rec := &recorder{}
	unsub, err := m.Subscribe(t.Context(), "conv-1", "widget", rec.handlers())
	require.NoError(t, err)
	defer unsub()

	// The subscriber still gets the message, via the polling fallback
	require.Eventually(t, func() bool { return rec.messageCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, rec.sawStatus(StatusDegraded))
}

func TestManager_ReconcileObservesOwnershipFromStore(t *testing.T) {
	transport := &fakeTransport{}
	ms := seededMockStore(t)
	m := NewSubscriptionManager(transport, ms, 20*time.Millisecond, nil)
	defer m.Close()

	rec := &recorder{}
	unsub, err := m.Subscribe(t.Context(), "conv-1", "widget", rec.handlers())
	require.NoError(t, err)
	defer unsub()

	// Let the first reconcile pass record the bot-owned baseline
	time.Sleep(60 * time.Millisecond)

	require.NoError(t, ms.CreateAgent(t.Context(), &store.Agent{ID: "agent-1", Name: "Alice", CreatedAt: time.Now()}))
	require.NoError(t, ms.CreateTakeover(t.Context(), &store.Takeover{
		ID:             "takeover-1",
		ConversationID: "conv-1",
		AgentID:        "agent-1",
		AssignedAt:     time.Now(),
	}))

	// Without any pushed event, polling must converge on the takeover
	require.Eventually(t, func() bool { return rec.ownershipCount() >= 1 }, 2*time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	change := rec.ownership[0]
	rec.mu.Unlock()
	assert.True(t, change.HumanOwned)
	assert.Equal(t, "agent-1", change.AgentID)
}

func TestManager_ResubscribesAfterTransportDrop(t *testing.T) {
	transport := &fakeTransport{}
	ms := seededMockStore(t)
	m := NewSubscriptionManager(transport, ms, time.Hour, nil)
	defer m.Close()

	rec := &recorder{}
	unsub, err := m.Subscribe(t.Context(), "conv-1", "widget", rec.handlers())
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool { return transport.calls() == 1 }, time.Second, 10*time.Millisecond)

	transport.drop()

	// Re-subscription happens without caller intervention
	require.Eventually(t, func() bool { return transport.calls() >= 2 }, 5*time.Second, 50*time.Millisecond)
	assert.True(t, rec.sawStatus(StatusDegraded))

	// Delivery works again on the new channel
	transport.publish(makeMessageEvent("msg-after-reconnect", "conv-1"))
	require.Eventually(t, func() bool { return rec.messageCount() == 1 }, time.Second, 10*time.Millisecond)
}
