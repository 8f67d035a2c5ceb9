// Package httpmodel implements domain.ModelEndpoint as an HTTP POST to a
// configurable chat-completions-style URL, with an otelhttp-wrapped
// transport and retry-with-backoff on transient upstream failures.
package httpmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/glitchwatch/core/internal/config"
	"github.com/glitchwatch/core/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client calls a single configured model endpoint URL for every model id in
// the pool; the model is selected by a body field, not the URL.
type Client struct {
	url    string
	apiKey string
	hc     *http.Client
	cfg    config.Config
}

var _ domain.ModelEndpoint = (*Client)(nil)

// New constructs a Client against cfg's configured model endpoint.
func New(cfg config.Config) *Client {
	return &Client{
		url:    cfg.ModelEndpointURL,
		apiKey: cfg.ModelAPIKey,
		hc: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "ModelEndpoint " + r.Method
				})),
		},
		cfg: cfg,
	}
}

type chatRequest struct {
	Model       string            `json:"model_id"`
	Messages    []chatMessage     `json:"messages"`
	Temperature float64           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Tools       []json.RawMessage `json:"tools,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string            `json:"content"`
			ToolCalls []json.RawMessage `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// Call posts systemPrompt+userPrompt to modelID's chat endpoint and returns
// the assistant's content, retrying transient failures with backoff up to
// the deadline implied by timeout. Non-2xx responses and empty bodies are
// reported as errors so the caller can fall back to the next model.
func (c *Client) Call(ctx context.Context, modelID string, systemPrompt, userPrompt string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:       modelID,
		Temperature: 0.2,
		MaxTokens:   800,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("httpmodel: marshal request: %w", err)
	}

	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = c.cfg.AIBackoffMaxElapsedTime
	expo.InitialInterval = c.cfg.AIBackoffInitialInterval
	expo.MaxInterval = c.cfg.AIBackoffMaxInterval
	expo.Multiplier = c.cfg.AIBackoffMultiplier
	bo := backoff.WithContext(expo, callCtx)

	var content string
	op := func() error {
		var opErr error
		content, opErr = c.doOnce(callCtx, body)
		return opErr
	}
	if err := backoff.Retry(op, bo); err != nil {
		return "", fmt.Errorf("httpmodel: call %s: %w", modelID, err)
	}
	return content, nil
}

func (c *Client) doOnce(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: status 429", domain.ErrUpstreamRateLimit)
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: status %d", domain.ErrUpstreamTimeout, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", backoff.Permanent(fmt.Errorf("model endpoint returned status %d: %s", resp.StatusCode, snippet))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", backoff.Permanent(fmt.Errorf("model endpoint returned no choices"))
	}
	msg := out.Choices[0].Message
	if msg.Content == "" && len(msg.ToolCalls) > 0 {
		return string(msg.ToolCalls[0]), nil
	}
	if msg.Content == "" {
		return "", backoff.Permanent(fmt.Errorf("model endpoint returned empty content"))
	}
	return msg.Content, nil
}
