// ABOUTME: Tests for the automated responder
// ABOUTME: Covers prompt assembly, passage grounding, and failure mapping

package llm

import (
	"context"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			}},
		},
	}
}

func TestResponder_Generate(t *testing.T) {
	mock := &MockClient{
		CreateChatCompletionFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			return textResponse("  You can reset it from the settings page.  "), nil
		},
	}
	responder := NewResponder(mock, "gpt-4o-mini", nil)

	reply, err := responder.Generate(t.Context(), []Turn{
		{Role: openai.ChatMessageRoleUser, Content: "How do I reset my password?"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "You can reset it from the settings page.", reply)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gpt-4o-mini", reqs[0].Model)
	require.Len(t, reqs[0].Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, reqs[0].Messages[0].Role)
	assert.Equal(t, "How do I reset my password?", reqs[0].Messages[1].Content)
}

func TestResponder_HistoryOrderPreserved(t *testing.T) {
	mock := &MockClient{
		CreateChatCompletionFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			return textResponse("ok"), nil
		},
	}
	responder := NewResponder(mock, "gpt-4o-mini", nil)

	history := []Turn{
		{Role: openai.ChatMessageRoleUser, Content: "first"},
		{Role: openai.ChatMessageRoleAssistant, Content: "second"},
		{Role: openai.ChatMessageRoleUser, Content: "third"},
	}
	_, err := responder.Generate(t.Context(), history, nil)
	require.NoError(t, err)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	msgs := reqs[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "first", msgs[1].Content)
	assert.Equal(t, "second", msgs[2].Content)
	assert.Equal(t, "third", msgs[3].Content)
}

func TestResponder_PassagesLandInSystemPrompt(t *testing.T) {
	mock := &MockClient{
		CreateChatCompletionFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			return textResponse("ok"), nil
		},
	}
	responder := NewResponder(mock, "gpt-4o-mini", nil)

	_, err := responder.Generate(t.Context(), []Turn{
		{Role: openai.ChatMessageRoleUser, Content: "pricing?"},
	}, []string{"Pro plan costs $20/month.", "Refunds within 30 days."})
	require.NoError(t, err)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	system := reqs[0].Messages[0].Content
	assert.Contains(t, system, "Pro plan costs $20/month.")
	assert.Contains(t, system, "Refunds within 30 days.")
}

func TestResponder_NonTransientErrorFailsFast(t *testing.T) {
	mock := &MockClient{
		CreateChatCompletionFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			return openai.ChatCompletionResponse{}, &openai.APIError{
				HTTPStatusCode: 401, Message: "invalid key",
			}
		},
	}
	responder := NewResponder(mock, "gpt-4o-mini", nil)

	_, err := responder.Generate(t.Context(), []Turn{{Role: openai.ChatMessageRoleUser, Content: "hi"}}, nil)
	assert.ErrorIs(t, err, ErrService)
	// Auth failures are not retried.
	assert.Len(t, mock.Requests(), 1)
}

func TestResponder_ContextCancelStopsRetry(t *testing.T) {
	mock := &MockClient{
		CreateChatCompletionFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			return openai.ChatCompletionResponse{}, &openai.APIError{
				HTTPStatusCode: 503, Message: "overloaded",
			}
		},
	}
	responder := NewResponder(mock, "gpt-4o-mini", nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := responder.Generate(ctx, []Turn{{Role: openai.ChatMessageRoleUser, Content: "hi"}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResponder_EmptyChoices(t *testing.T) {
	mock := &MockClient{
		CreateChatCompletionFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			return openai.ChatCompletionResponse{}, nil
		},
	}
	responder := NewResponder(mock, "gpt-4o-mini", nil)

	_, err := responder.Generate(t.Context(), []Turn{{Role: openai.ChatMessageRoleUser, Content: "hi"}}, nil)
	assert.ErrorIs(t, err, ErrService)
}
