// ABOUTME: SubscriptionManager multiplexes handlers over the event transport
// ABOUTME: Adds dedupe, automatic re-subscription, and poll reconciliation fallback

package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/awaistahseen009/chatizia/internal/dedupe"
	"github.com/awaistahseen009/chatizia/internal/store"
)

// ErrTransportClosed is returned when subscribing through a transport that
// has been shut down.
var ErrTransportClosed = errors.New("transport closed")

// Status reports which delivery path a subscription is on. Degraded is
// advisory: the subscriber keeps receiving events via poll reconciliation.
type Status string

const (
	StatusLive     Status = "live"
	StatusDegraded Status = "degraded"
)

// Transport is the underlying push delivery channel. The in-memory
// Broadcaster implements it; a remote transport would too. The event channel
// closes when the transport connection drops, which the manager treats as a
// reconnect signal.
type Transport interface {
	Subscribe(ctx context.Context, conversationID string) (<-chan *Event, func(), error)
}

// StateFetcher reads current conversation state for poll reconciliation.
// The store satisfies this.
type StateFetcher interface {
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
	GetTakeover(ctx context.Context, conversationID string) (*store.Takeover, error)
}

// Handlers receive deliveries for one subscription. Any handler may be nil.
// OnMessage sees each message at most once per subscription (dedupe by
// message ID). OnOwnershipChange fires on observed transitions; because
// message and ownership events are unordered relative to each other, handlers
// must tolerate transient inconsistency between the two.
type Handlers struct {
	OnMessage         func(*store.Message)
	OnOwnershipChange func(*OwnershipChange)
	OnStatus          func(Status)
}

const (
	dedupeTTL        = 10 * time.Minute
	dedupeMaxSize    = 4096
	reconcileFetch   = 200
	resubscribeDelay = time.Second
	defaultReconcile = 15 * time.Second
)

// SubscriptionManager owns all live subscriptions. It is constructed
// explicitly and injected into the components that need it; there is no
// package-level shared instance.
//
// Guarantees, per subscription:
//   - at-least-once delivery collapsed to at-most-once per message ID
//   - automatic re-subscription after transport drops, no caller action
//   - periodic poll reconciliation against the store, merging by entity ID,
//     which also serves as the degraded-mode delivery path
//   - idempotent Subscribe: one underlying channel per (owner, conversation)
type SubscriptionManager struct {
	transport Transport
	fetcher   StateFetcher
	interval  time.Duration
	logger    *slog.Logger

	mu   sync.Mutex
	subs map[string]*subscription // "owner|conversationID"
}

type subscription struct {
	conversationID string
	handlers       Handlers
	seen           *dedupe.Cache
	cancel         context.CancelFunc

	mu             sync.Mutex
	lastOwnership  string // takeover ID, or "" while bot-owned
	ownershipKnown bool
	status         Status
}

// NewSubscriptionManager creates a manager over the given transport and
// state fetcher. reconcileInterval <= 0 selects the default.
func NewSubscriptionManager(transport Transport, fetcher StateFetcher, reconcileInterval time.Duration, logger *slog.Logger) *SubscriptionManager {
	if logger == nil {
		logger = slog.Default()
	}
	if reconcileInterval <= 0 {
		reconcileInterval = defaultReconcile
	}
	return &SubscriptionManager{
		transport: transport,
		fetcher:   fetcher,
		interval:  reconcileInterval,
		logger:    logger.With("component", "subscriptions"),
		subs:      make(map[string]*subscription),
	}
}

// Subscribe registers handlers for a conversation on behalf of a logical
// owner (widget session, dashboard tab). Subscribing twice with the same
// owner and conversation reuses the existing subscription instead of opening
// a duplicate channel. The returned function unsubscribes and releases the
// underlying transport resources; calling it twice is safe.
func (m *SubscriptionManager) Subscribe(ctx context.Context, conversationID, owner string, h Handlers) (func(), error) {
	key := owner + "|" + conversationID

	m.mu.Lock()
	if existing, ok := m.subs[key]; ok {
		m.mu.Unlock()
		m.logger.Debug("subscribe reused existing subscription",
			"conversation_id", conversationID, "owner", owner)
		return m.unsubscribeFunc(key, existing), nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		conversationID: conversationID,
		handlers:       h,
		seen:           dedupe.New(dedupeTTL, dedupeMaxSize),
		cancel:         cancel,
		status:         StatusDegraded, // until the transport attaches
	}
	m.subs[key] = sub
	m.mu.Unlock()

	go m.runTransportLoop(subCtx, sub)
	go m.runReconcileLoop(subCtx, sub)

	m.logger.Debug("subscription created",
		"conversation_id", conversationID, "owner", owner)

	return m.unsubscribeFunc(key, sub), nil
}

// unsubscribeFunc builds the idempotent cancellation closure for a subscription.
func (m *SubscriptionManager) unsubscribeFunc(key string, sub *subscription) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.subs[key] == sub {
				delete(m.subs, key)
			}
			m.mu.Unlock()
			sub.cancel()
			sub.seen.Close()
			m.logger.Debug("subscription removed", "conversation_id", sub.conversationID)
		})
	}
}

// Close cancels every live subscription.
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for key, sub := range m.subs {
		subs = append(subs, sub)
		delete(m.subs, key)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		sub.seen.Close()
	}
}

// runTransportLoop attaches to the push transport and keeps re-attaching
// whenever the event channel closes, until the subscription ends. While
// detached the subscription is degraded and survives on reconciliation.
func (m *SubscriptionManager) runTransportLoop(ctx context.Context, sub *subscription) {
	for {
		ch, unsub, err := m.transport.Subscribe(ctx, sub.conversationID)
		if err != nil {
			sub.setStatus(StatusDegraded)
			m.logger.Warn("transport subscribe failed, falling back to polling",
				"conversation_id", sub.conversationID,
				"error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(resubscribeDelay):
			}
			continue
		}

		sub.setStatus(StatusLive)

		for event := range ch {
			m.deliver(sub, event)
		}
		unsub()

		if ctx.Err() != nil {
			return
		}

		// Channel closed without cancellation: transport dropped. Events in
		// the disconnect window are not replayed; reconciliation covers them.
		sub.setStatus(StatusDegraded)
		m.logger.Warn("transport dropped, re-subscribing",
			"conversation_id", sub.conversationID)

		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

// runReconcileLoop periodically re-fetches conversation state and feeds it
// through the same dedupe path as live events. The merge is idempotent by
// entity ID, so polling alongside push delivery never produces duplicates.
func (m *SubscriptionManager) runReconcileLoop(ctx context.Context, sub *subscription) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reconcile(ctx, sub)
		}
	}
}

// reconcile fetches messages and ownership state and delivers anything the
// subscription has not yet observed.
func (m *SubscriptionManager) reconcile(ctx context.Context, sub *subscription) {
	msgs, err := m.fetcher.ListMessages(ctx, sub.conversationID, reconcileFetch)
	if err != nil {
		m.logger.Warn("reconcile message fetch failed",
			"conversation_id", sub.conversationID,
			"error", err)
	} else {
		for _, msg := range msgs {
			m.deliver(sub, &Event{
				ID:             msg.ID,
				Kind:           EventMessage,
				ConversationID: sub.conversationID,
				Message:        msg,
			})
		}
	}

	takeover, err := m.fetcher.GetTakeover(ctx, sub.conversationID)
	switch {
	case err == nil:
		sub.applyOwnership(OwnershipStateKey(takeover.ID, takeover.KnowledgeBaseEnabled), &OwnershipChange{
			ConversationID:       sub.conversationID,
			HumanOwned:           true,
			AgentID:              takeover.AgentID,
			KnowledgeBaseEnabled: takeover.KnowledgeBaseEnabled,
			ChangedAt:            takeover.AssignedAt,
		})
	case errors.Is(err, store.ErrNotFound):
		sub.applyOwnership("", &OwnershipChange{
			ConversationID: sub.conversationID,
			HumanOwned:     false,
			ChangedAt:      time.Now(),
		})
	default:
		m.logger.Warn("reconcile ownership fetch failed",
			"conversation_id", sub.conversationID,
			"error", err)
	}
}

// deliver routes one event to the subscription's handlers, collapsing
// duplicates by entity ID.
func (m *SubscriptionManager) deliver(sub *subscription, event *Event) {
	switch event.Kind {
	case EventMessage:
		if event.Message == nil || !sub.seen.FirstSight(event.ID) {
			return
		}
		if sub.handlers.OnMessage != nil {
			sub.handlers.OnMessage(event.Message)
		}
	case EventOwnership:
		if event.Ownership == nil {
			return
		}
		key := ""
		if event.Ownership.HumanOwned {
			key = event.ID
		}
		sub.applyOwnership(key, event.Ownership)
	}
}

// applyOwnership fires the ownership handler only when the observed state
// differs from the last applied one, so duplicate and polled deliveries
// collapse into a single transition.
func (s *subscription) applyOwnership(ownershipKey string, change *OwnershipChange) {
	s.mu.Lock()
	if s.ownershipKnown && s.lastOwnership == ownershipKey {
		s.mu.Unlock()
		return
	}
	// First observation of bot-owned state is the initial condition, not a
	// transition; don't announce it.
	initial := !s.ownershipKnown && ownershipKey == ""
	s.lastOwnership = ownershipKey
	s.ownershipKnown = true
	handler := s.handlers.OnOwnershipChange
	s.mu.Unlock()

	if initial || handler == nil {
		return
	}
	handler(change)
}

// setStatus records the delivery path and notifies the status handler on
// changes.
func (s *subscription) setStatus(status Status) {
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return
	}
	s.status = status
	handler := s.handlers.OnStatus
	s.mu.Unlock()

	if handler != nil {
		handler(status)
	}
}
