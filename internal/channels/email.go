package channels

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/glitchwatch/core/internal/domain"
)

// EmailProvider sends plain-text glitch notifications through an SMTP
// relay. A fire-and-forget plaintext send needs nothing beyond net/smtp.
type EmailProvider struct {
	addr string
	from string
	auth smtp.Auth
}

var _ domain.ChannelProvider = (*EmailProvider)(nil)

// NewEmailProvider constructs an EmailProvider. addr is a "host:port" SMTP
// relay address; an empty addr makes Send report a config error.
func NewEmailProvider(addr, from string) *EmailProvider {
	return &EmailProvider{addr: addr, from: from}
}

// Channel returns "email".
func (e *EmailProvider) Channel() string { return domain.ChannelEmail }

// Send emails target (an address) a summary of the glitch.
func (e *EmailProvider) Send(ctx context.Context, glitch domain.ValidatedGlitch, target string) (domain.ChannelResult, error) {
	now := time.Now()
	if e.addr == "" {
		err := fmt.Errorf("channel email not configured: %w", domain.ErrInvalidArgument)
		return domain.ChannelResult{Success: false, Channel: domain.ChannelEmail, Error: err.Error(), SentAt: now}, err
	}
	if target == "" {
		err := fmt.Errorf("email channel requires a recipient address: %w", domain.ErrInvalidArgument)
		return domain.ChannelResult{Success: false, Channel: domain.ChannelEmail, Error: err.Error(), SentAt: now}, err
	}

	subject := fmt.Sprintf("Pricing glitch: %s", glitch.Product.Title)
	body := fmt.Sprintf(
		"%s\n%s\nCurrent price: %.2f\nProfit margin: %.1f%%\nConfidence: %.0f%%\n%s\n",
		glitch.Product.Title, glitch.Product.URL, glitch.Product.CurrentPrice, glitch.ProfitMargin, glitch.Confidence, glitch.Reasoning,
	)
	msg := buildMIME(e.from, target, subject, body)

	if err := smtp.SendMail(e.addr, e.auth, e.from, []string{target}, msg); err != nil {
		return domain.ChannelResult{Success: false, Channel: domain.ChannelEmail, Error: err.Error(), SentAt: now}, nil
	}
	return domain.ChannelResult{Success: true, Channel: domain.ChannelEmail, SentAt: now}, nil
}

func buildMIME(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
