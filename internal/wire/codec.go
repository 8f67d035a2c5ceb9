// Package wire converts PricingAnomaly and ValidatedGlitch entities to and
// from the flat map[string]string payload the Bus carries. The product
// snapshot nests as one JSON field rather than one Bus field per struct
// member, so snapshots travel by value without a field per attribute.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/glitchwatch/core/internal/domain"
)

// EncodeAnomaly renders a PricingAnomaly as a Bus payload map.
func EncodeAnomaly(a domain.PricingAnomaly) (map[string]string, error) {
	product, err := json.Marshal(a.Product)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal product: %w", err)
	}
	m := map[string]string{
		"id":                 a.ID,
		"product":            string(product),
		"anomaly_type":       string(a.AnomalyType),
		"initial_confidence": strconv.FormatFloat(a.InitialConfidence, 'f', -1, 64),
		"detected_at":        a.DetectedAt.Format(time.RFC3339),
		"status":             string(a.Status),
	}
	if a.ZScore != nil {
		m["z_score"] = strconv.FormatFloat(*a.ZScore, 'f', -1, 64)
	}
	if a.DiscountPercentage != nil {
		m["discount_percentage"] = strconv.FormatFloat(*a.DiscountPercentage, 'f', -1, 64)
	}
	return m, nil
}

// DecodeAnomaly parses a Bus payload map back into a PricingAnomaly.
// Returns an error wrapping domain.ErrSchemaInvalid when a required field
// is missing or unparseable, which the consumer framework treats as
// advance-without-DLQ.
func DecodeAnomaly(m map[string]string) (domain.PricingAnomaly, error) {
	id := m["id"]
	if id == "" {
		id = uuid.NewString()
	}
	var product domain.ProductSnapshot
	if raw, ok := m["product"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &product); err != nil {
			return domain.PricingAnomaly{}, fmt.Errorf("wire: unmarshal product: %w: %w", err, domain.ErrSchemaInvalid)
		}
	} else {
		return domain.PricingAnomaly{}, fmt.Errorf("wire: missing product: %w", domain.ErrSchemaInvalid)
	}

	conf, err := parseFloat(m["initial_confidence"])
	if err != nil {
		return domain.PricingAnomaly{}, fmt.Errorf("wire: initial_confidence: %w: %w", err, domain.ErrSchemaInvalid)
	}

	detectedAt := time.Now().UTC()
	if raw, ok := m["detected_at"]; ok && raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.PricingAnomaly{}, fmt.Errorf("wire: detected_at: %w: %w", err, domain.ErrSchemaInvalid)
		}
		detectedAt = t
	}

	a := domain.PricingAnomaly{
		ID:                id,
		Product:           product,
		AnomalyType:       domain.AnomalyType(m["anomaly_type"]),
		InitialConfidence: conf,
		DetectedAt:        detectedAt,
		Status:            domain.AnomalyStatus(m["status"]),
	}
	if raw, ok := m["z_score"]; ok && raw != "" {
		v, err := parseFloat(raw)
		if err != nil {
			return domain.PricingAnomaly{}, fmt.Errorf("wire: z_score: %w: %w", err, domain.ErrSchemaInvalid)
		}
		a.ZScore = &v
	}
	if raw, ok := m["discount_percentage"]; ok && raw != "" {
		v, err := parseFloat(raw)
		if err != nil {
			return domain.PricingAnomaly{}, fmt.Errorf("wire: discount_percentage: %w: %w", err, domain.ErrSchemaInvalid)
		}
		a.DiscountPercentage = &v
	}
	if a.Status == "" {
		a.Status = domain.AnomalyPending
	}
	return a, nil
}

// EncodeGlitch renders a ValidatedGlitch as a Bus payload map.
func EncodeGlitch(g domain.ValidatedGlitch) (map[string]string, error) {
	product, err := json.Marshal(g.Product)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal product: %w", err)
	}
	return map[string]string{
		"id":            g.ID,
		"anomaly_id":    g.AnomalyID,
		"product":       string(product),
		"is_glitch":     strconv.FormatBool(g.IsGlitch),
		"confidence":    strconv.FormatFloat(g.Confidence, 'f', -1, 64),
		"reasoning":     g.Reasoning,
		"glitch_type":   string(g.GlitchType),
		"profit_margin": strconv.FormatFloat(g.ProfitMargin, 'f', -1, 64),
		"validated_at":  g.ValidatedAt.Format(time.RFC3339),
	}, nil
}

// DecodeGlitch parses a Bus payload map back into a ValidatedGlitch, with
// the same malformed-payload disposition as DecodeAnomaly.
func DecodeGlitch(m map[string]string) (domain.ValidatedGlitch, error) {
	id, ok := m["id"]
	if !ok || id == "" {
		return domain.ValidatedGlitch{}, fmt.Errorf("wire: missing id: %w", domain.ErrSchemaInvalid)
	}
	var product domain.ProductSnapshot
	if raw, ok := m["product"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &product); err != nil {
			return domain.ValidatedGlitch{}, fmt.Errorf("wire: unmarshal product: %w: %w", err, domain.ErrSchemaInvalid)
		}
	}
	confidence, err := parseFloat(m["confidence"])
	if err != nil {
		return domain.ValidatedGlitch{}, fmt.Errorf("wire: confidence: %w: %w", err, domain.ErrSchemaInvalid)
	}
	margin, err := parseFloat(m["profit_margin"])
	if err != nil {
		return domain.ValidatedGlitch{}, fmt.Errorf("wire: profit_margin: %w: %w", err, domain.ErrSchemaInvalid)
	}
	validatedAt := time.Now().UTC()
	if raw, ok := m["validated_at"]; ok && raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.ValidatedGlitch{}, fmt.Errorf("wire: validated_at: %w: %w", err, domain.ErrSchemaInvalid)
		}
		validatedAt = t
	}
	return domain.ValidatedGlitch{
		ID:           id,
		AnomalyID:    m["anomaly_id"],
		Product:      product,
		IsGlitch:     m["is_glitch"] == "true",
		Confidence:   confidence,
		Reasoning:    m["reasoning"],
		GlitchType:   domain.GlitchType(m["glitch_type"]),
		ProfitMargin: margin,
		ValidatedAt:  validatedAt,
	}, nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
