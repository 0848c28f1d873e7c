// ABOUTME: HTTP client for the gateway's conversation and hand-off API
// ABOUTME: Used by operator tooling to drive takeovers and read state remotely

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/awaistahseen009/chatizia/internal/store"
)

const defaultTimeout = 30 * time.Second

// Client talks to a running gateway over HTTP. It mirrors the API surface
// one-to-one; every method returns the gateway's error taxonomy mapped back
// to the store sentinels so callers can branch the same way server-side code
// does.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The SSE subscription
// path strips the timeout itself, so a client with a global timeout is safe
// to pass here.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client for the gateway at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Conversation is the API's view of a conversation.
type Conversation struct {
	ID        string `json:"id"`
	ChatbotID string `json:"chatbot_id"`
	SessionID string `json:"session_id"`
	CreatedAt string `json:"created_at"`
}

// Message is the API's view of a stored message.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	AgentID        string `json:"agent_id,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// Ownership is the API's view of who currently owns a conversation.
type Ownership struct {
	ConversationID       string `json:"conversation_id"`
	HumanOwned           bool   `json:"human_owned"`
	TakeoverID           string `json:"takeover_id,omitempty"`
	AgentID              string `json:"agent_id,omitempty"`
	AgentName            string `json:"agent_name,omitempty"`
	KnowledgeBaseEnabled bool   `json:"knowledge_base_enabled"`
}

// Notification is the API's view of an agent notification.
type Notification struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Type           string `json:"type"`
	Message        string `json:"message"`
	IsRead         bool   `json:"is_read"`
	ChatbotName    string `json:"chatbot_name,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type sendMessageResponse struct {
	Reply *Message `json:"reply"`
}

type messagesResponse struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

// EnsureConversation creates or finds the conversation for a chatbot session.
func (c *Client) EnsureConversation(ctx context.Context, chatbotID, sessionID string) (*Conversation, error) {
	body := map[string]string{"chatbot_id": chatbotID, "session_id": sessionID}
	var conv Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// SendMessage posts a customer message. The returned reply is nil when the
// conversation is human-owned or the bot stayed silent for an escalation.
func (c *Client) SendMessage(ctx context.Context, conversationID, text string) (*Message, error) {
	body := map[string]string{"text": text}
	var resp sendMessageResponse
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return resp.Reply, nil
}

// Messages returns up to limit messages in chronological order.
func (c *Client) Messages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	path := fmt.Sprintf("/api/conversations/%s/messages?limit=%d", url.PathEscape(conversationID), limit)
	var resp messagesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Ownership reports the current ownership state of a conversation.
func (c *Client) Ownership(ctx context.Context, conversationID string) (*Ownership, error) {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/ownership"
	var state Ownership
	if err := c.do(ctx, http.MethodGet, path, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// TakeOver claims a conversation for an agent. Reason is "manual" or
// "escalation"; empty defaults to manual.
func (c *Client) TakeOver(ctx context.Context, conversationID, agentID, reason string) (*Ownership, error) {
	body := map[string]string{"agent_id": agentID, "reason": reason}
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/takeover"
	var state Ownership
	if err := c.do(ctx, http.MethodPost, path, body, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// HandBack releases a conversation back to the bot.
func (c *Client) HandBack(ctx context.Context, conversationID, agentID string) error {
	path := fmt.Sprintf("/api/conversations/%s/takeover?agent_id=%s",
		url.PathEscape(conversationID), url.QueryEscape(agentID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ToggleKnowledgeBase flips knowledge-base retrieval for a human-owned
// conversation.
func (c *Client) ToggleKnowledgeBase(ctx context.Context, conversationID string, enabled bool) error {
	body := map[string]bool{"enabled": enabled}
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/knowledge-base"
	return c.do(ctx, http.MethodPatch, path, body, nil)
}

// RequestHuman files a manual-request notification on behalf of the customer.
func (c *Client) RequestHuman(ctx context.Context, conversationID string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/request-human"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// Notifications lists an agent's notifications, newest first.
func (c *Client) Notifications(ctx context.Context, agentID string, unreadOnly bool) ([]Notification, error) {
	path := "/api/agents/" + url.PathEscape(agentID) + "/notifications"
	if unreadOnly {
		path += "?unread=true"
	}
	var notifications []Notification
	if err := c.do(ctx, http.MethodGet, path, nil, &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkNotificationRead marks one notification as handled.
func (c *Client) MarkNotificationRead(ctx context.Context, notificationID string) error {
	path := "/api/notifications/" + url.PathEscape(notificationID) + "/read"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// Health checks the gateway's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// do runs one API round trip: marshal body, send, map error status, decode.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// apiError maps the gateway's status codes back to the store sentinels so
// callers branch on errors.Is the same way in-process code does.
func apiError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	detail := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		detail = payload.Error
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", store.ErrNotFound, detail)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", store.ErrConflict, detail)
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return fmt.Errorf("%w: %s", store.ErrInvalid, detail)
	default:
		return errors.New("gateway error: " + detail)
	}
}
