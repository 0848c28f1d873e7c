// ABOUTME: Sentiment-driven escalation policy for bot-owned conversations
// ABOUTME: Maintains rolling sentiment windows and files agent notifications

package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/awaistahseen009/chatizia/internal/store"
)

// Decision is the outcome of evaluating one customer message.
type Decision int

const (
	None Decision = iota
	Escalate
)

// Sentiment labels returned by the classifier. Anything else is treated
// as neutral.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Classifier scores the sentiment of a single customer message.
type Classifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

// Store is the subset of persistence the policy needs.
type Store interface {
	GetChatbot(ctx context.Context, id string) (*store.Chatbot, error)
	ListAgentsForChatbot(ctx context.Context, chatbotID string) ([]*store.Agent, error)
	CreateNotification(ctx context.Context, n *store.Notification) error
}

const (
	defaultWindowSize        = 5
	defaultNegativeThreshold = 3
)

// Policy keeps a bounded rolling window of sentiment labels per
// conversation and escalates when the window turns predominantly
// negative. Escalation fires at most once per bot-owned period; the
// latch re-arms when ownership cycles back through ResetConversation.
// Windows live in memory only and are lost on restart.
type Policy struct {
	classifier Classifier
	store      Store
	logger     *slog.Logger

	windowSize int
	threshold  int

	mu      sync.Mutex
	windows map[string][]string
	latched map[string]bool
}

// Option configures a Policy.
type Option func(*Policy)

// WithWindowSize bounds the rolling sentiment window.
func WithWindowSize(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.windowSize = n
		}
	}
}

// WithNegativeThreshold sets how many negative samples in the window
// trigger an escalation.
func WithNegativeThreshold(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.threshold = n
		}
	}
}

func NewPolicy(classifier Classifier, st Store, logger *slog.Logger, opts ...Option) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Policy{
		classifier: classifier,
		store:      st,
		logger:     logger.With("component", "escalation"),
		windowSize: defaultWindowSize,
		threshold:  defaultNegativeThreshold,
		windows:    make(map[string][]string),
		latched:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Evaluate classifies one inbound customer message and decides whether
// the conversation should be routed to a human. Classifier and store
// failures degrade to None so a flaky external service never blocks the
// bot; Escalate is only returned once a notification has actually been
// filed, so the customer never sees an escalation notice nobody will
// answer. Escalation files a notification for one assigned agent; it
// does not transfer ownership itself.
func (p *Policy) Evaluate(ctx context.Context, conv *store.Conversation, text string) (Decision, error) {
	sentiment, err := p.classifier.Classify(ctx, text)
	if err != nil {
		p.logger.Warn("sentiment classification failed, skipping sample",
			"conversation_id", conv.ID, "error", err)
		return None, nil
	}
	switch sentiment {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
	default:
		p.logger.Warn("unrecognized sentiment label, treating as neutral",
			"conversation_id", conv.ID, "label", sentiment)
		sentiment = SentimentNeutral
	}

	if !p.record(conv.ID, sentiment) {
		return None, nil
	}

	if !p.notify(ctx, conv) {
		// Nothing was filed; release the latch so a later negative
		// message retries instead of the escalation being lost for the
		// rest of the bot-owned period.
		p.unlatch(conv.ID)
		return None, nil
	}
	return Escalate, nil
}

// record appends a sample to the conversation's window and reports
// whether the escalation threshold was crossed while unlatched.
func (p *Policy) record(conversationID, sentiment string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	window := append(p.windows[conversationID], sentiment)
	if len(window) > p.windowSize {
		window = window[len(window)-p.windowSize:]
	}
	p.windows[conversationID] = window

	if p.latched[conversationID] {
		return false
	}

	negatives := 0
	for _, s := range window {
		if s == SentimentNegative {
			negatives++
		}
	}
	if negatives < p.threshold {
		return false
	}

	p.latched[conversationID] = true
	return true
}

// notify files an escalation notification for the first agent assigned
// to the owning chatbot and reports whether one was filed. No assigned
// agent and store failures are logged no-ops.
func (p *Policy) notify(ctx context.Context, conv *store.Conversation) bool {
	agents, err := p.store.ListAgentsForChatbot(ctx, conv.ChatbotID)
	if err != nil {
		p.logger.Error("escalation skipped, listing agents failed",
			"conversation_id", conv.ID, "chatbot_id", conv.ChatbotID, "error", err)
		return false
	}
	if len(agents) == 0 {
		p.logger.Warn("escalation triggered but no agent assigned to chatbot",
			"conversation_id", conv.ID, "chatbot_id", conv.ChatbotID)
		return false
	}
	agent := agents[0]

	bot, err := p.store.GetChatbot(ctx, conv.ChatbotID)
	if err != nil {
		p.logger.Error("escalation skipped, loading chatbot failed",
			"conversation_id", conv.ID, "chatbot_id", conv.ChatbotID, "error", err)
		return false
	}

	notification := &store.Notification{
		ID:             uuid.New().String(),
		AgentID:        agent.ID,
		ConversationID: conv.ID,
		Type:           store.NotificationEscalation,
		Message:        fmt.Sprintf("A customer talking to %s sounds frustrated and needs a human.", bot.Name),
		ChatbotName:    bot.Name,
		CreatedAt:      time.Now(),
	}
	if err := p.store.CreateNotification(ctx, notification); err != nil {
		p.logger.Error("escalation skipped, creating notification failed",
			"conversation_id", conv.ID, "agent_id", agent.ID, "error", err)
		return false
	}

	p.logger.Info("conversation escalated",
		"conversation_id", conv.ID, "agent_id", agent.ID, "chatbot_id", conv.ChatbotID)
	return true
}

// unlatch re-arms a conversation whose escalation never made it out.
func (p *Policy) unlatch(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.latched, conversationID)
}

// ResetConversation clears the sentiment window and re-arms the
// escalation latch. Called when a conversation is handed back to the
// bot or its history is cleared.
func (p *Policy) ResetConversation(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.windows, conversationID)
	delete(p.latched, conversationID)
}
