// ABOUTME: OpenAI-compatible completion client setup and retry policy
// ABOUTME: Shared by the responder and the sentiment classifier

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// ErrService indicates the completion service failed after retries.
// Callers degrade gracefully rather than surfacing this to customers.
var ErrService = errors.New("completion service unavailable")

// ChatCompleter is the slice of the OpenAI client the package needs.
// *openai.Client satisfies it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

const defaultTimeout = 60 * time.Second

// NewClient builds an OpenAI-compatible client. baseURL may point at
// any compatible endpoint; an empty apiKey gets a placeholder so local
// endpoints without auth still work.
func NewClient(apiKey, baseURL string, timeout time.Duration) *openai.Client {
	if apiKey == "" {
		apiKey = "sk-xxx"
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	config.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(config)
}

const maxRetries = 3

// completeWithRetry calls the completion endpoint with exponential
// backoff plus jitter on transient failures (network errors, 5xx, 429).
// Non-transient API errors return immediately.
func completeWithRetry(ctx context.Context, client ChatCompleter, req openai.ChatCompletionRequest, logger *slog.Logger) (openai.ChatCompletionResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * time.Second
			jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
			backoff := base + jitter
			logger.Warn("retrying completion request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return openai.ChatCompletionResponse{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := client.CreateChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isTransient(err) {
			return openai.ChatCompletionResponse{}, fmt.Errorf("%w: %w", ErrService, err)
		}
		logger.Warn("completion request failed, will retry", "error", err)
	}

	return openai.ChatCompletionResponse{}, fmt.Errorf("%w after %d retries: %w", ErrService, maxRetries, lastErr)
}

func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// go-openai wraps transport errors in *url.Error, which implements
	// net.Error, so plain errors landing here are request-building
	// problems and not worth retrying.
	return false
}
