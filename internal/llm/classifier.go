// ABOUTME: Sentiment classifier over a forced tool call returning typed JSON
// ABOUTME: Labels single customer messages as positive, neutral or negative

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

const classifierPrompt = `Classify the sentiment of the following customer
support message. Respond via the sentiment tool.

Message: %s`

// sentimentSchema forces the model to pick exactly one label.
var sentimentSchema = jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"sentiment": {
			Type: jsonschema.String,
			Enum: []string{"positive", "neutral", "negative"},
		},
	},
	Required: []string{"sentiment"},
}

// SentimentClassifier labels customer messages via a forced function
// call, so the verdict arrives as machine-parseable JSON rather than
// free text.
type SentimentClassifier struct {
	client ChatCompleter
	model  string
	logger *slog.Logger
}

func NewSentimentClassifier(client ChatCompleter, model string, logger *slog.Logger) *SentimentClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SentimentClassifier{
		client: client,
		model:  model,
		logger: logger.With("component", "classifier"),
	}
}

// Classify returns "positive", "neutral" or "negative" for one message.
func (c *SentimentClassifier) Classify(ctx context.Context, text string) (string, error) {
	const toolName = "sentiment"
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(classifierPrompt, text),
			},
		},
		Tools: []openai.Tool{
			{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:       toolName,
					Parameters: sentimentSchema,
				},
			},
		},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: toolName},
		},
	}

	resp, err := completeWithRetry(ctx, c.client, req, c.logger)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrService)
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) == 0 {
		// Some compatible endpoints ignore tool forcing and answer in
		// plain text; accept the label if it is recognizable.
		label := strings.ToLower(strings.TrimSpace(msg.Content))
		switch label {
		case "positive", "neutral", "negative":
			return label, nil
		}
		return "", fmt.Errorf("%w: no tool call in response", ErrService)
	}

	var verdict struct {
		Sentiment string `json:"sentiment"`
	}
	if err := json.Unmarshal([]byte(msg.ToolCalls[0].Function.Arguments), &verdict); err != nil {
		return "", fmt.Errorf("%w: parsing verdict: %w", ErrService, err)
	}
	return verdict.Sentiment, nil
}
