package channels

import (
	"github.com/glitchwatch/core/internal/config"
	"github.com/glitchwatch/core/internal/domain"
)

// Build wires one provider per channel named in the tier-policy table from
// cfg's credentials, returned as a channel-name-keyed map for the
// dispatcher's lookup.
func Build(cfg config.Config) map[string]domain.ChannelProvider {
	return map[string]domain.ChannelProvider{
		domain.ChannelEmail:       NewEmailProvider(cfg.SMTPAddr, cfg.SMTPFrom),
		domain.ChannelChat:        NewHTTPChannel(domain.ChannelChat, cfg.ChatWebhookURL, nil),
		domain.ChannelSMS:         NewHTTPChannel(domain.ChannelSMS, cfg.SMSGatewayURL, bearerAuth(cfg.SMSAPIKey)),
		domain.ChannelIM:          NewHTTPChannel(domain.ChannelIM, cfg.IMGatewayURL, bearerAuth(cfg.IMAPIKey)),
		domain.ChannelRichMessage: NewHTTPChannel(domain.ChannelRichMessage, cfg.ChatWebhookURL, nil),
		domain.ChannelWebhook:     NewHTTPChannel(domain.ChannelWebhook, cfg.WebhookURL, hmacAuth(cfg.WebhookSecret)),
		domain.ChannelPriority:    NewHTTPChannel(domain.ChannelPriority, cfg.PriorityWebhookURL, hmacAuth(cfg.WebhookSecret)),
	}
}
