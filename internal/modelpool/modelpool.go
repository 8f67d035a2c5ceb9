// Package modelpool holds the static model table loaded at router startup.
// The pool is fixed configuration plus environment toggles, not a live
// catalog fetch; changing the roster means editing this table.
package modelpool

import (
	"strings"

	"github.com/glitchwatch/core/internal/domain"
)

// Default returns the startup model table: a standard (free) pool spanning
// base and mid tiers, tool-capable where the model supports it, plus a SOTA
// pool of paid high-tier models for unicorn escalation.
func Default() []domain.ModelConfig {
	return []domain.ModelConfig{
		{
			ID: "llama-3.1-8b-instruct", Name: "Llama 3.1 8B Instruct", Provider: "openrouter",
			BaseWeight: 40, ContextWindow: 128000, Tier: domain.ModelTierBase,
			Capabilities: caps("json", "classification"), SupportsTools: false,
			IsFree: true, TimeoutMS: 10000, Enabled: true,
		},
		{
			ID: "mixtral-8x7b-instruct", Name: "Mixtral 8x7B Instruct", Provider: "openrouter",
			BaseWeight: 35, ContextWindow: 32000, Tier: domain.ModelTierBase,
			Capabilities: caps("json", "classification"), SupportsTools: false,
			IsFree: true, TimeoutMS: 10000, Enabled: true,
		},
		{
			ID: "gemini-flash-1.5", Name: "Gemini 1.5 Flash", Provider: "openrouter",
			BaseWeight: 50, ContextWindow: 1000000, Tier: domain.ModelTierMid,
			Capabilities: caps("json", "classification", "tools"), SupportsTools: true,
			IsFree: true, TimeoutMS: 8000, Enabled: true,
		},
		{
			ID: "gpt-4o-mini", Name: "GPT-4o mini", Provider: "openai",
			BaseWeight: 60, ContextWindow: 128000, Tier: domain.ModelTierMid,
			Capabilities: caps("json", "classification", "tools"), SupportsTools: true,
			IsFree: true, TimeoutMS: 8000, Enabled: true,
		},
		{
			ID: "claude-3-5-sonnet", Name: "Claude 3.5 Sonnet", Provider: "anthropic",
			BaseWeight: 80, ContextWindow: 200000, Tier: domain.ModelTierHigh,
			Capabilities: caps("json", "classification", "tools", "reasoning"), SupportsTools: true,
			IsFree: false, TimeoutMS: 20000, Enabled: true,
		},
		{
			ID: "gpt-4o", Name: "GPT-4o", Provider: "openai",
			BaseWeight: 70, ContextWindow: 128000, Tier: domain.ModelTierHigh,
			Capabilities: caps("json", "classification", "tools", "reasoning"), SupportsTools: true,
			IsFree: false, TimeoutMS: 20000, Enabled: true,
		},
	}
}

func caps(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

// ApplyDisabled marks every model whose ID appears in disabledCSV (a
// comma-separated env toggle, e.g. MODEL_POOL_DISABLED=gpt-4o,claude-3-5-sonnet)
// as disabled, leaving the rest of the static table untouched.
func ApplyDisabled(models []domain.ModelConfig, disabledCSV string) []domain.ModelConfig {
	disabledCSV = strings.TrimSpace(disabledCSV)
	if disabledCSV == "" {
		return models
	}
	disabled := make(map[string]bool)
	for _, id := range strings.Split(disabledCSV, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			disabled[id] = true
		}
	}
	out := make([]domain.ModelConfig, len(models))
	for i, m := range models {
		if disabled[m.ID] {
			m.Enabled = false
		}
		out[i] = m
	}
	return out
}
