package wire_test

import (
	"testing"
	"time"

	"github.com/glitchwatch/core/internal/domain"
	"github.com/glitchwatch/core/internal/wire"
	"github.com/stretchr/testify/require"
)

func sampleAnomaly() domain.PricingAnomaly {
	z := 4.2
	disc := 92.5
	return domain.PricingAnomaly{
		ID: "anom-1",
		Product: domain.ProductSnapshot{
			RetailerID:   "retailer-x",
			Title:        "4K TV",
			Category:     "electronics",
			CurrentPrice: 1.99,
		},
		AnomalyType:        domain.AnomalyZScore,
		InitialConfidence:  80,
		DetectedAt:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Status:             domain.AnomalyPending,
		ZScore:             &z,
		DiscountPercentage: &disc,
	}
}

func TestEncodeDecodeAnomalyRoundTrips(t *testing.T) {
	a := sampleAnomaly()
	payload, err := wire.EncodeAnomaly(a)
	require.NoError(t, err)

	got, err := wire.DecodeAnomaly(payload)
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
	require.Equal(t, a.Product.Title, got.Product.Title)
	require.Equal(t, a.InitialConfidence, got.InitialConfidence)
	require.NotNil(t, got.ZScore)
	require.InDelta(t, *a.ZScore, *got.ZScore, 0.0001)
	require.True(t, a.DetectedAt.Equal(got.DetectedAt))
}

func TestDecodeAnomalyMissingIDIsGenerated(t *testing.T) {
	got, err := wire.DecodeAnomaly(map[string]string{"product": `{}`})
	require.NoError(t, err)
	require.NotEmpty(t, got.ID, "a missing id from the upstream detector must be backfilled, not rejected")
}

func TestDecodeAnomalyMalformedProductIsSchemaInvalid(t *testing.T) {
	_, err := wire.DecodeAnomaly(map[string]string{"id": "x", "product": `{not json`})
	require.ErrorIs(t, err, domain.ErrSchemaInvalid)
}

func TestDecodeAnomalyBadFloatIsSchemaInvalid(t *testing.T) {
	_, err := wire.DecodeAnomaly(map[string]string{
		"id":                 "x",
		"product":            `{}`,
		"initial_confidence": "not-a-number",
	})
	require.ErrorIs(t, err, domain.ErrSchemaInvalid)
}

func sampleGlitch() domain.ValidatedGlitch {
	return domain.ValidatedGlitch{
		ID:           "anom-1-glitch",
		AnomalyID:    "anom-1",
		Product:      domain.ProductSnapshot{RetailerID: "retailer-x", CurrentPrice: 1.99},
		IsGlitch:     true,
		Confidence:   91,
		Reasoning:    "decimal shift",
		GlitchType:   domain.GlitchDecimalError,
		ProfitMargin: 95.5,
		ValidatedAt:  time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC),
	}
}

func TestEncodeDecodeGlitchRoundTrips(t *testing.T) {
	g := sampleGlitch()
	payload, err := wire.EncodeGlitch(g)
	require.NoError(t, err)

	got, err := wire.DecodeGlitch(payload)
	require.NoError(t, err)
	require.Equal(t, g.ID, got.ID)
	require.Equal(t, g.IsGlitch, got.IsGlitch)
	require.Equal(t, g.GlitchType, got.GlitchType)
	require.InDelta(t, g.ProfitMargin, got.ProfitMargin, 0.0001)
	require.True(t, g.ValidatedAt.Equal(got.ValidatedAt))
}

func TestDecodeGlitchMissingIDIsSchemaInvalid(t *testing.T) {
	_, err := wire.DecodeGlitch(map[string]string{"confidence": "10", "profit_margin": "1"})
	require.ErrorIs(t, err, domain.ErrSchemaInvalid)
}
