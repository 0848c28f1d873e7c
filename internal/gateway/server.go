// ABOUTME: HTTP server wiring for the hand-off gateway
// ABOUTME: Routes widget and agent-dashboard endpoints onto one mux

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/awaistahseen009/chatizia/internal/bus"
	"github.com/awaistahseen009/chatizia/internal/llm"
	"github.com/awaistahseen009/chatizia/internal/ownership"
	"github.com/awaistahseen009/chatizia/internal/store"
)

// Conversations is what the server needs from the orchestrator.
type Conversations interface {
	EnsureConversation(ctx context.Context, chatbotID, sessionID string) (*store.Conversation, error)
	HandleCustomerMessage(ctx context.Context, conversationID, text string) (*store.Message, error)
	History(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
}

// Ownership is what the server needs from the ownership machine.
type Ownership interface {
	State(ctx context.Context, conversationID string) (*ownership.State, error)
	TakeOver(ctx context.Context, conversationID, agentID string, reason ownership.TakeoverReason) (*store.Takeover, error)
	HandBack(ctx context.Context, conversationID, agentID string) error
	ToggleKnowledgeBase(ctx context.Context, conversationID string, enabled bool) error
}

// StateStore is the slice of storage the dashboard endpoints and the SSE
// reconciliation replay use.
type StateStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetChatbot(ctx context.Context, id string) (*store.Chatbot, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
	ListAgentsForChatbot(ctx context.Context, chatbotID string) ([]*store.Agent, error)
	CreateNotification(ctx context.Context, n *store.Notification) error
	ListNotificationsForAgent(ctx context.Context, agentID string, unreadOnly bool, limit int) ([]*store.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// Subscriber delivers live conversation events for SSE streaming.
type Subscriber interface {
	Subscribe(ctx context.Context, conversationID string) (<-chan *bus.Event, func(), error)
}

const defaultReconcileInterval = 15 * time.Second

// Server is the HTTP surface of the gateway.
type Server struct {
	conversations Conversations
	ownership     Ownership
	store         StateStore
	events        Subscriber
	reconcile     time.Duration
	logger        *slog.Logger

	httpServer *http.Server
}

// New assembles the server. Call Routes for the handler, or Start to
// listen. reconcileInterval controls how often open SSE streams replay
// store state; zero or negative selects the default.
func New(conversations Conversations, owner Ownership, st StateStore, events Subscriber, reconcileInterval time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if reconcileInterval <= 0 {
		reconcileInterval = defaultReconcileInterval
	}
	return &Server{
		conversations: conversations,
		ownership:     owner,
		store:         st,
		events:        events,
		reconcile:     reconcileInterval,
		logger:        logger.With("component", "gateway"),
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Widget endpoints
	mux.HandleFunc("POST /api/conversations", s.handleEnsureConversation)
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleListMessages)
	mux.HandleFunc("GET /api/conversations/{id}/events", s.handleEventStream)
	mux.HandleFunc("POST /api/conversations/{id}/request-human", s.handleRequestHuman)

	// Agent dashboard endpoints
	mux.HandleFunc("GET /api/conversations/{id}/ownership", s.handleOwnershipState)
	mux.HandleFunc("POST /api/conversations/{id}/takeover", s.handleTakeover)
	mux.HandleFunc("DELETE /api/conversations/{id}/takeover", s.handleHandBack)
	mux.HandleFunc("PATCH /api/conversations/{id}/knowledge-base", s.handleToggleKnowledgeBase)
	mux.HandleFunc("GET /api/agents/{id}/notifications", s.handleListNotifications)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.handleMarkNotificationRead)

	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

// Start listens on addr until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrBotInactive):
		status = http.StatusConflict
	case errors.Is(err, store.ErrInvalid):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, llm.ErrService):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		err = fmt.Errorf("internal server error")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
