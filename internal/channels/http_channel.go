// Package channels implements the notification channel providers: one
// small uniform Send adapter per channel, registered into a
// channel-name-keyed map. Channels are looked up by name, never branched
// on in a switch, so adding a channel is a registry entry rather than a
// dispatcher change.
package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/glitchwatch/core/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// webhookPayload is the JSON body posted to every HTTP-based channel; each
// provider's endpoint is expected to render it however that channel needs.
type webhookPayload struct {
	Channel      string  `json:"channel"`
	Target       string  `json:"target,omitempty"`
	GlitchID     string  `json:"glitch_id"`
	Title        string  `json:"title"`
	URL          string  `json:"url"`
	RetailerID   string  `json:"retailer_id"`
	CurrentPrice float64 `json:"current_price"`
	ProfitMargin float64 `json:"profit_margin"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

func payloadFor(channel string, glitch domain.ValidatedGlitch, target string) webhookPayload {
	return webhookPayload{
		Channel:      channel,
		Target:       target,
		GlitchID:     glitch.ID,
		Title:        glitch.Product.Title,
		URL:          glitch.Product.URL,
		RetailerID:   glitch.Product.RetailerID,
		CurrentPrice: glitch.Product.CurrentPrice,
		ProfitMargin: glitch.ProfitMargin,
		Confidence:   glitch.Confidence,
		Reasoning:    glitch.Reasoning,
	}
}

// HTTPChannel posts a glitch notification to a fixed webhook-style endpoint.
// It backs chat, sms, im, rich_message, webhook, and priority: the channels
// whose delivery is "POST a JSON payload to an endpoint with an auth header",
// differing only in name, URL, and how the header is set.
type HTTPChannel struct {
	name   string
	url    string
	client *http.Client
	auth   func(*http.Request)
}

var _ domain.ChannelProvider = (*HTTPChannel)(nil)

// NewHTTPChannel constructs an HTTPChannel. auth may be nil for endpoints
// that need no extra header (e.g. a pre-signed webhook URL).
func NewHTTPChannel(name, url string, auth func(*http.Request)) *HTTPChannel {
	return &HTTPChannel{name: name, url: url, client: newHTTPClient(), auth: auth}
}

// Channel returns the provider's channel name.
func (h *HTTPChannel) Channel() string { return h.name }

// Send posts the glitch to the configured endpoint. An unconfigured
// endpoint (empty URL) is a config error: the caller should fail only this
// channel and continue, not treat it as transient or fatal.
func (h *HTTPChannel) Send(ctx context.Context, glitch domain.ValidatedGlitch, target string) (domain.ChannelResult, error) {
	now := time.Now()
	if h.url == "" {
		err := fmt.Errorf("channel %s not configured: %w", h.name, domain.ErrInvalidArgument)
		return domain.ChannelResult{Success: false, Channel: h.name, Error: err.Error(), SentAt: now}, err
	}

	body, err := json.Marshal(payloadFor(h.name, glitch, target))
	if err != nil {
		return domain.ChannelResult{Success: false, Channel: h.name, Error: err.Error(), SentAt: now}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return domain.ChannelResult{Success: false, Channel: h.name, Error: err.Error(), SentAt: now}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.auth != nil {
		h.auth(req)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return domain.ChannelResult{Success: false, Channel: h.name, Error: err.Error(), SentAt: now}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		errMsg := fmt.Sprintf("%s returned status %d: %s", h.name, resp.StatusCode, string(respBody))
		return domain.ChannelResult{Success: false, Channel: h.name, Error: errMsg, SentAt: now}, nil
	}

	messageID := resp.Header.Get("X-Message-Id")
	return domain.ChannelResult{Success: true, Channel: h.name, MessageID: messageID, SentAt: now}, nil
}

func bearerAuth(token string) func(*http.Request) {
	return func(r *http.Request) {
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

func hmacAuth(secret string) func(*http.Request) {
	return func(r *http.Request) {
		if secret != "" {
			r.Header.Set("X-Webhook-Secret", secret)
		}
	}
}
