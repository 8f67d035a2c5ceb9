// Package validator implements the AI validation worker: for each
// PricingAnomaly consumed from anomaly.detected, it selects a model via the
// weighted router, asks it to classify the anomaly, and either emits a
// ValidatedGlitch to anomaly.confirmed or marks the anomaly rejected.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glitchwatch/core/internal/adapter/observability"
	"github.com/glitchwatch/core/internal/domain"
	obsctx "github.com/glitchwatch/core/internal/observability"
	"github.com/glitchwatch/core/internal/router"
	"github.com/glitchwatch/core/internal/wire"
	"github.com/glitchwatch/core/pkg/jsonextract"
)

// DetectedStream is the Bus stream the validator consumes PricingAnomaly
// entries from.
const DetectedStream = "anomaly.detected"

// ConfirmedStream is the Bus stream the validator emits ValidatedGlitch
// entries onto.
const ConfirmedStream = "anomaly.confirmed"

const maxModelAttempts = 3

// modelResult is the strict JSON shape requested from the model.
type modelResult struct {
	IsGlitch   *bool   `json:"is_glitch"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	GlitchType string  `json:"glitch_type"`
}

// Validator wires the Router, the model endpoint, and the Bus together.
type Validator struct {
	router      *router.Router
	endpoint    domain.ModelEndpoint
	bus         domain.Bus
	models      map[string]domain.ModelConfig
	anomalyRepo domain.AnomalyRepository
	log         *slog.Logger
}

// New constructs a Validator. anomalyRepo may be nil; status transitions are
// then a no-op.
func New(r *router.Router, endpoint domain.ModelEndpoint, bus domain.Bus, models []domain.ModelConfig, anomalyRepo domain.AnomalyRepository, log *slog.Logger) *Validator {
	if log == nil {
		log = slog.Default()
	}
	byID := make(map[string]domain.ModelConfig, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}
	return &Validator{router: r, endpoint: endpoint, bus: bus, models: byID, anomalyRepo: anomalyRepo, log: log}
}

// Handle is a consumer.HandlerFunc: decode, validate, and either emit a
// ValidatedGlitch or reject. Returning an error wrapping domain.ErrSchemaInvalid
// tells the consumer framework to advance without DLQ; any other error is
// retried in place up to the framework's max retries.
func (v *Validator) Handle(ctx context.Context, entry domain.StreamEntry) error {
	anomaly, err := wire.DecodeAnomaly(entry.Payload)
	if err != nil {
		return err
	}
	observability.AnomaliesDetectedTotal.Inc()

	lg := obsctx.LoggerFromContext(ctx)
	if lg == slog.Default() {
		lg = v.log
	}
	lg = lg.With(slog.String("anomaly_id", anomaly.ID))

	unicorn := router.UnicornSignals{
		DiscountPercentage: derefOr(anomaly.DiscountPercentage, 0),
		Confidence:         anomaly.InitialConfidence,
		ZScore:             derefOr(anomaly.ZScore, 0),
	}

	result, modelID, err := v.classify(ctx, anomaly, unicorn, lg)
	if err != nil {
		return fmt.Errorf("validator[%s]: %w", anomaly.ID, err)
	}

	confidence := clamp(result.Confidence, 0, 100)
	isGlitch := result.IsGlitch != nil && *result.IsGlitch

	if !isGlitch || confidence < 50 {
		v.updateStatus(ctx, anomaly.ID, domain.AnomalyRejected)
		observability.AnomaliesRejectedTotal.Inc()
		lg.Info("anomaly rejected", slog.String("model", modelID), slog.Float64("confidence", confidence))
		return nil
	}

	glitch := domain.ValidatedGlitch{
		ID:           anomaly.ID + "-glitch",
		AnomalyID:    anomaly.ID,
		Product:      anomaly.Product,
		IsGlitch:     true,
		Confidence:   confidence,
		Reasoning:    result.Reasoning,
		GlitchType:   glitchType(result.GlitchType),
		ProfitMargin: profitMargin(anomaly),
		ValidatedAt:  time.Now().UTC(),
	}

	payload, err := wire.EncodeGlitch(glitch)
	if err != nil {
		return fmt.Errorf("validator[%s]: encode glitch: %w", anomaly.ID, err)
	}
	if _, err := v.bus.XAdd(ctx, ConfirmedStream, payload); err != nil {
		return fmt.Errorf("validator[%s]: publish glitch: %w", anomaly.ID, err)
	}

	v.updateStatus(ctx, anomaly.ID, domain.AnomalyValidated)
	observability.AnomaliesValidatedTotal.Inc()
	lg.Info("anomaly validated", slog.String("model", modelID), slog.Float64("confidence", confidence), slog.Float64("profit_margin", glitch.ProfitMargin))
	return nil
}

// classify tries up to maxModelAttempts distinct models, recording each
// outcome on the Router, and returns the first successfully parsed result.
func (v *Validator) classify(ctx context.Context, anomaly domain.PricingAnomaly, unicorn router.UnicornSignals, lg *slog.Logger) (modelResult, string, error) {
	attempted := make(map[string]bool, maxModelAttempts)
	var lastErr error

	for attempt := 0; attempt < maxModelAttempts; attempt++ {
		modelID, err := v.selectUnattempted(ctx, unicorn, attempted)
		if err != nil {
			if lastErr != nil {
				return modelResult{}, "", lastErr
			}
			return modelResult{}, "", err
		}
		attempted[modelID] = true

		cfg, ok := v.models[modelID]
		timeout := 20 * time.Second
		if ok && cfg.TimeoutMS > 0 {
			timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
		}

		start := time.Now()
		content, err := v.endpoint.Call(ctx, modelID, systemPrompt, userPrompt(anomaly), timeout)
		latency := time.Since(start)
		observability.RecordModelCall(modelID, latency)

		if err != nil {
			lastErr = err
			v.router.RecordFailure(ctx, modelID, false)
			lg.Warn("model call failed, falling back", slog.String("model", modelID), slog.Any("error", err))
			continue
		}

		var parsed modelResult
		if err := jsonextract.Unmarshal(content, &parsed); err != nil || parsed.IsGlitch == nil {
			lastErr = fmt.Errorf("unparseable model response: %w", errors.Join(err, fmt.Errorf("missing is_glitch")))
			v.router.RecordFailure(ctx, modelID, false)
			lg.Warn("model response failed validation, falling back", slog.String("model", modelID), slog.Any("error", err))
			continue
		}

		v.router.RecordSuccess(ctx, modelID, latency.Milliseconds(), false)
		observability.RouterSelectionsTotal.WithLabelValues(modelID).Inc()
		return parsed, modelID, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: all model attempts exhausted", domain.ErrUpstreamTimeout)
	}
	return modelResult{}, "", lastErr
}

// selectUnattempted asks the Router for a model, resampling a bounded
// number of times to avoid repeating an already-failed model within the
// same classify call. It returns an error when every draw lands on a model
// already attempted.
func (v *Validator) selectUnattempted(ctx context.Context, unicorn router.UnicornSignals, attempted map[string]bool) (string, error) {
	const maxResamples = 6
	for i := 0; i < maxResamples; i++ {
		id, err := v.router.Select(ctx, false, unicorn)
		if err != nil {
			return "", err
		}
		if !attempted[id] {
			return id, nil
		}
	}
	return "", fmt.Errorf("validator: no untried model selected: %w", router.ErrNoModelsAvailable)
}

func (v *Validator) updateStatus(ctx context.Context, anomalyID string, status domain.AnomalyStatus) {
	if v.anomalyRepo == nil {
		return
	}
	if err := v.anomalyRepo.UpdateStatus(ctx, anomalyID, status); err != nil {
		v.log.Error("failed to update anomaly status", slog.String("anomaly_id", anomalyID), slog.String("status", string(status)), slog.Any("error", err))
	}
}

// profitMargin derives the margin from original/current price when the
// original is known, else falls back to the anomaly's own
// discount_percentage signal.
func profitMargin(a domain.PricingAnomaly) float64 {
	if a.Product.OriginalPrice != nil && *a.Product.OriginalPrice > 0 {
		margin := (*a.Product.OriginalPrice - a.Product.CurrentPrice) / *a.Product.OriginalPrice * 100
		if margin < 0 {
			return 0
		}
		return margin
	}
	return derefOr(a.DiscountPercentage, 0)
}

func glitchType(s string) domain.GlitchType {
	switch domain.GlitchType(strings.ToLower(strings.TrimSpace(s))) {
	case domain.GlitchDecimalError, domain.GlitchDatabaseError, domain.GlitchClearance, domain.GlitchCouponStack:
		return domain.GlitchType(strings.ToLower(strings.TrimSpace(s)))
	default:
		return domain.GlitchUnknown
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func derefOr(p *float64, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	return *p
}

const systemPrompt = `You are a pricing-anomaly validator. Given a product snapshot and detection metadata, decide whether the listed price is a genuine pricing glitch worth surfacing to shoppers. Respond with a single JSON object with exactly these fields: is_glitch (boolean), confidence (0-100 integer), reasoning (short string), glitch_type (one of "decimal_error", "database_error", "clearance", "coupon_stack", "unknown"). Respond with JSON only.`

func userPrompt(a domain.PricingAnomaly) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n", a.Product.Title)
	fmt.Fprintf(&b, "Retailer: %s\n", a.Product.RetailerID)
	fmt.Fprintf(&b, "Category: %s\n", a.Product.Category)
	fmt.Fprintf(&b, "Current price: %.2f\n", a.Product.CurrentPrice)
	if a.Product.OriginalPrice != nil {
		fmt.Fprintf(&b, "Original price: %.2f\n", *a.Product.OriginalPrice)
	}
	fmt.Fprintf(&b, "Stock: %s\n", a.Product.Stock)
	fmt.Fprintf(&b, "Detection type: %s\n", a.AnomalyType)
	if a.ZScore != nil {
		fmt.Fprintf(&b, "Z-score: %.2f\n", *a.ZScore)
	}
	if a.DiscountPercentage != nil {
		fmt.Fprintf(&b, "Discount percentage: %.1f\n", *a.DiscountPercentage)
	}
	fmt.Fprintf(&b, "Initial detector confidence: %.0f\n", a.InitialConfidence)
	return b.String()
}
