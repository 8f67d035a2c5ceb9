// Package domain defines core entities, ports, and domain-specific errors
// for the pricing-glitch detection and notification core.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels). Callers classify with errors.Is to decide
// retry, DLQ, skip, or abort.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrShutdown          = errors.New("shutdown requested")
	ErrInternal          = errors.New("internal error")
)

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// StockStatus enumerates product stock states carried in a PricingAnomaly snapshot.
type StockStatus string

// Stock status values.
const (
	StockInStock    StockStatus = "in_stock"
	StockLowStock   StockStatus = "low_stock"
	StockOutOfStock StockStatus = "out_of_stock"
	StockUnknown    StockStatus = "unknown"
)

// AnomalyType enumerates how a PricingAnomaly was flagged by the (external) detector.
type AnomalyType string

// Anomaly type values.
const (
	AnomalyZScore         AnomalyType = "z_score"
	AnomalyPercentageDrop AnomalyType = "percentage_drop"
	AnomalyDecimalError   AnomalyType = "decimal_error"
	AnomalyHistorical     AnomalyType = "historical"
)

// AnomalyStatus captures the lifecycle state of a PricingAnomaly.
type AnomalyStatus string

// Anomaly status values. Advances monotonically: pending -> validated|rejected -> notified.
const (
	AnomalyPending   AnomalyStatus = "pending"
	AnomalyValidated AnomalyStatus = "validated"
	AnomalyRejected  AnomalyStatus = "rejected"
	AnomalyNotified  AnomalyStatus = "notified"
)

// GlitchType enumerates the validator's classification of a confirmed glitch.
type GlitchType string

// Glitch type values.
const (
	GlitchDecimalError  GlitchType = "decimal_error"
	GlitchDatabaseError GlitchType = "database_error"
	GlitchClearance     GlitchType = "clearance"
	GlitchCouponStack   GlitchType = "coupon_stack"
	GlitchUnknown       GlitchType = "unknown"
)

// ProductSnapshot is the point-in-time product data carried by anomalies and
// glitches. Stored by value at emission time; downstream consumers never
// re-resolve it against a live catalog.
type ProductSnapshot struct {
	Title         string
	CurrentPrice  float64
	OriginalPrice *float64
	Stock         StockStatus
	RetailerID    string
	URL           string
	Category      string
}

// PricingAnomaly is a statistically flagged candidate price, pre-validation.
type PricingAnomaly struct {
	ID      string
	Product ProductSnapshot

	AnomalyType        AnomalyType
	ZScore             *float64
	DiscountPercentage *float64
	InitialConfidence  float64 // [0,100]

	DetectedAt time.Time
	Status     AnomalyStatus
}

// ValidatedGlitch is a validated pricing error worth broadcasting.
type ValidatedGlitch struct {
	ID        string
	AnomalyID string
	Product   ProductSnapshot

	IsGlitch   bool
	Confidence float64 // [0,100]
	Reasoning  string
	GlitchType GlitchType

	ProfitMargin float64 // percent
	ValidatedAt  time.Time
}

// ModelTier is a coarse capability/cost tier for a model.
type ModelTier string

// Model tier values.
const (
	ModelTierHigh ModelTier = "high"
	ModelTierMid  ModelTier = "mid"
	ModelTierBase ModelTier = "base"
)

// ModelConfig is immutable once loaded at startup (static table + env toggles).
type ModelConfig struct {
	ID            string
	Name          string
	Provider      string
	BaseWeight    int // [1,100]
	ContextWindow int
	Tier          ModelTier
	Capabilities  map[string]struct{}
	SupportsTools bool
	IsFree        bool
	TimeoutMS     int
	Enabled       bool
}

// ModelPerformance is mutable, per-model. Protected by the owning router cell's lock.
type ModelPerformance struct {
	Success             int64
	Failure             int64
	ToolSuccess         int64
	ToolFailure         int64
	TotalLatencyMS      int64
	LastUsed            time.Time
	ConsecutiveFailures int
}

// CircuitState enumerates the per-model breaker state.
type CircuitState string

// Circuit state values.
const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreakerState is the per-model breaker snapshot. ErrorTimestamps holds
// a sliding window of failure times used by the window-based trip signal.
type CircuitBreakerState struct {
	State           CircuitState
	OpenedAt        time.Time
	ErrorTimestamps []time.Time
}

// Tier is a user's subscription level determining notification delay and allowed channels.
type Tier string

// Tier values recognized by the tier-policy table.
const (
	TierFree    Tier = "free"
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
	TierElite   Tier = "elite"
)

// Channel names used by the tier-policy table and channel provider registry.
const (
	ChannelEmail       = "email"
	ChannelChat        = "chat"
	ChannelSMS         = "sms"
	ChannelIM          = "im"
	ChannelRichMessage = "rich_message"
	ChannelWebhook     = "webhook"
	ChannelPriority    = "priority"
)

// UserPreferences drives the dispatcher's per-user preference filter.
type UserPreferences struct {
	MinProfitMargin float64
	Categories      []string
	Retailers       []string
	MinPrice        float64
	MaxPrice        float64
	EnabledChannels map[string]bool
}

// Subscriber is an active user eligible for glitch notifications.
type Subscriber struct {
	UserID string
	Tier   Tier
	Prefs  UserPreferences
	// ContactAddress maps a channel name to the per-channel destination
	// identifier a ChannelProvider needs (an email address, phone number, IM
	// handle, or webhook URL). Opaque to the dispatcher; each provider
	// interprets its own target string.
	ContactAddress map[string]string
}

// DispatchJob is the Delay Queue payload scheduled by the dispatcher, one per tier group.
type DispatchJob struct {
	GlitchID string
	Tiers    []Tier
	// ScheduledAt is advisory metadata carried alongside the job; the actual
	// delivery delay is enforced by the Delay Queue's delay_ms at enqueue time.
	ScheduledAt time.Time
}

// UniqueID returns the DispatchJob's dedup key: notify-{glitch_id}-{joined-tiers}.
func (j DispatchJob) UniqueID() string {
	s := "notify-" + j.GlitchID + "-"
	for i, t := range j.Tiers {
		if i > 0 {
			s += ","
		}
		s += string(t)
	}
	return s
}

// ChannelResult is what a Channel Provider's send() returns.
type ChannelResult struct {
	Success   bool
	Channel   string
	MessageID string
	Error     string
	SentAt    time.Time
}

// Bus is the durable append-only stream contract.
type Bus interface {
	XAdd(ctx Context, stream string, payload map[string]string) (string, error)
	XRead(ctx Context, stream, afterID string, count int) ([]StreamEntry, error)
	XLen(ctx Context, stream string) (int64, error)
}

// StreamEntry is one Bus record: a monotonically increasing ID plus its payload.
type StreamEntry struct {
	ID      string
	Payload map[string]string
}

// KV is the TTL'd key-value contract used for dedup, counters,
// cursors, and router state.
type KV interface {
	Get(ctx Context, key string) (string, bool, error)
	Set(ctx Context, key, value string, ttl time.Duration) error
	// SetNX sets the key only if absent (set-if-absent dedup semantics); returns
	// whether the set happened.
	SetNX(ctx Context, key, value string, ttl time.Duration) (bool, error)
	Incr(ctx Context, key string) (int64, error)
	Exists(ctx Context, key string) (bool, error)
	Del(ctx Context, key string) error
	Keys(ctx Context, pattern string) ([]string, error)
}

// DelayQueue is the delayed-job contract.
type DelayQueue interface {
	Add(ctx Context, name string, payload []byte, delay time.Duration, uniqueID string) error
	Consume(ctx Context, name string, handler func(Context, []byte) error, concurrency int) error
}

// ChannelProvider is the uniform send facade implemented once per channel.
type ChannelProvider interface {
	Channel() string
	Send(ctx Context, glitch ValidatedGlitch, target string) (ChannelResult, error)
}

// ModelEndpoint is the outbound contract to an LLM chat endpoint.
type ModelEndpoint interface {
	Call(ctx Context, modelID string, systemPrompt, userPrompt string, timeout time.Duration) (string, error)
}

// SubscriberRepository loads active subscribers for the dispatcher.
type SubscriberRepository interface {
	ActiveByTiers(ctx Context, tiers []Tier) ([]Subscriber, error)
}

// AnomalyRepository persists PricingAnomaly status transitions.
type AnomalyRepository interface {
	UpdateStatus(ctx Context, id string, status AnomalyStatus) error
}
