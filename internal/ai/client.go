package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Client is the minimal generative model surface used by the analyzers.
type Client interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

var (
	ErrTimeout           = errors.New("ai call timed out")
	ErrInvalidAIResponse = errors.New("invalid ai response")
	ErrMissingAPIKey     = errors.New("ai api key required")
)

// New returns a Client for provider. The mock approves every task, so it is
// only returned when asked for by name.
func New(ctx context.Context, provider, model, apiKey string) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gemini":
		if strings.TrimSpace(apiKey) == "" {
			return nil, fmt.Errorf("%w for provider gemini", ErrMissingAPIKey)
		}
		return NewGeminiClient(ctx, apiKey, model)
	case "", "mock":
		return &MockClient{}, nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", provider)
	}
}

type callResult struct {
	text string
	err  error
}

// generateWithTimeout races the model call against timeout. When the timer
// wins the call is abandoned: its context is cancelled and a late result is
// dropped into a buffered channel nobody reads.
func generateWithTimeout(ctx context.Context, c Client, prompt string, timeout time.Duration) (string, error) {
	if c == nil {
		return "", errors.New("ai client not configured")
	}
	callCtx, cancel := context.WithCancel(ctx)
	done := make(chan callResult, 1)
	go func() {
		text, err := c.GenerateText(callCtx, prompt)
		done <- callResult{text: text, err: err}
	}()
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case res := <-done:
		cancel()
		return res.text, res.err
	case <-timer:
		cancel()
		return "", fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case <-ctx.Done():
		cancel()
		return "", ctx.Err()
	}
}
