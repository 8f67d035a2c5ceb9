// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
// Constructed once via Load and passed explicitly; no package outside config
// reads os.Getenv directly.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`

	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"glitchwatch-core"`

	AdminPort int `env:"ADMIN_PORT" envDefault:"8080"`

	// Stream consumer framework.
	StreamBatchSize      int `env:"STREAM_BATCH_SIZE" envDefault:"50"`
	StreamPollIntervalMS int `env:"STREAM_POLL_INTERVAL_MS" envDefault:"2000"`
	StreamMaxRetries     int `env:"STREAM_MAX_RETRIES" envDefault:"5"`
	GracefulShutdownMS   int `env:"GRACEFUL_SHUTDOWN_TIMEOUT" envDefault:"30000"`

	// Weighted model router.
	EnableSOTAModels        bool `env:"ENABLE_SOTA_MODELS" envDefault:"false"`
	CircuitBreakerThreshold int  `env:"CIRCUIT_BREAKER_THRESHOLD" envDefault:"3"`
	CircuitBreakerWindowMS  int  `env:"CIRCUIT_BREAKER_WINDOW_MS" envDefault:"300000"`

	// Notification dispatcher.
	NotifyDedupTTLSeconds int `env:"NOTIFY_DEDUP_TTL_SECONDS" envDefault:"86400"`

	// Model endpoint.
	ModelEndpointURL string `env:"MODEL_ENDPOINT_URL" envDefault:"http://localhost:4000/v1/chat"`
	ModelAPIKey      string `env:"MODEL_API_KEY"`
	// ModelPoolDisabled is a comma-separated list of model ids to disable on
	// top of the static table.
	ModelPoolDisabled string `env:"MODEL_POOL_DISABLED" envDefault:""`

	// Channel provider credentials, each read only by its own provider adapter.
	SMTPAddr           string `env:"SMTP_ADDR"`
	SMTPFrom           string `env:"SMTP_FROM" envDefault:"alerts@glitchwatch.dev"`
	ChatWebhookURL     string `env:"CHAT_WEBHOOK_URL"`
	SMSGatewayURL      string `env:"SMS_GATEWAY_URL"`
	SMSAPIKey          string `env:"SMS_API_KEY"`
	IMGatewayURL       string `env:"IM_GATEWAY_URL"`
	IMAPIKey           string `env:"IM_API_KEY"`
	WebhookURL         string `env:"WEBHOOK_URL"`
	WebhookSecret      string `env:"WEBHOOK_SECRET"`
	PriorityWebhookURL string `env:"PRIORITY_WEBHOOK_URL"`

	// Model-call retry backoff.
	AIBackoffMaxElapsedTime  time.Duration `env:"AI_BACKOFF_MAX_ELAPSED_TIME" envDefault:"60s"`
	AIBackoffInitialInterval time.Duration `env:"AI_BACKOFF_INITIAL_INTERVAL" envDefault:"500ms"`
	AIBackoffMaxInterval     time.Duration `env:"AI_BACKOFF_MAX_INTERVAL" envDefault:"5s"`
	AIBackoffMultiplier      float64       `env:"AI_BACKOFF_MULTIPLIER" envDefault:"1.5"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// StreamPollInterval returns the poll interval as a time.Duration.
func (c Config) StreamPollInterval() time.Duration {
	return time.Duration(c.StreamPollIntervalMS) * time.Millisecond
}

// GracefulShutdownTimeout returns the shutdown budget as a time.Duration.
func (c Config) GracefulShutdownTimeout() time.Duration {
	return time.Duration(c.GracefulShutdownMS) * time.Millisecond
}

// CircuitBreakerWindow returns the sliding failure window as a time.Duration.
func (c Config) CircuitBreakerWindow() time.Duration {
	return time.Duration(c.CircuitBreakerWindowMS) * time.Millisecond
}

// NotifyDedupTTL returns the glitch-level dedup TTL as a time.Duration.
func (c Config) NotifyDedupTTL() time.Duration {
	return time.Duration(c.NotifyDedupTTLSeconds) * time.Second
}
