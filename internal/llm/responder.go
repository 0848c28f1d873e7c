// ABOUTME: Automated responder that drafts bot replies from conversation history
// ABOUTME: Optionally grounds the reply on retrieved knowledge-base passages

package llm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Turn is one prior exchange in the conversation, already mapped to
// completion-API roles ("user" or "assistant").
type Turn struct {
	Role    string
	Content string
}

const responderSystemPrompt = `You are a helpful customer support assistant.
Answer concisely and stay on topic. If knowledge-base passages are provided,
prefer them over general knowledge. If you cannot help, say so plainly.`

// Responder generates bot replies over an OpenAI-compatible endpoint.
type Responder struct {
	client ChatCompleter
	model  string
	logger *slog.Logger
}

func NewResponder(client ChatCompleter, model string, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		client: client,
		model:  model,
		logger: logger.With("component", "responder"),
	}
}

// Generate drafts a reply to the latest customer turn. history must end
// with the customer's message; passages are optional knowledge-base
// context. Returns ErrService when the upstream fails after retries.
func (r *Responder) Generate(ctx context.Context, history []Turn, passages []string) (string, error) {
	system := responderSystemPrompt
	if len(passages) > 0 {
		var b strings.Builder
		b.WriteString(system)
		b.WriteString("\n\nKnowledge-base passages:\n")
		for _, p := range passages {
			b.WriteString("- ")
			b.WriteString(p)
			b.WriteString("\n")
		}
		system = b.String()
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})
	for _, turn := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}

	resp, err := completeWithRetry(ctx, r.client, openai.ChatCompletionRequest{
		Model:    r.model,
		Messages: messages,
	}, r.logger)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrService
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
